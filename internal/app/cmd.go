package app

// Command はサブコマンド名。
type Command string

const (
	// CommandServe はAPIサーバー。SCHEDULER_ENABLEDの場合はスケジューラも同居させる。
	CommandServe Command = "serve"
	// CommandWorker はスケジューラ専用プロセス。/metrics と /health のみ公開する。
	CommandWorker Command = "worker"
	// CommandMigrate はマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandAggregate は集約を1回だけ同期実行して終了する。
	CommandAggregate Command = "aggregate"
	// CommandHealthcheck はdistrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭引数をサブコマンドとして解釈する。
// 空または未知の値はCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch c := Command(args[0]); c {
	case CommandServe, CommandWorker, CommandMigrate, CommandAggregate, CommandHealthcheck:
		return c
	default:
		return CommandServe
	}
}
