package model

import "time"

// VoteType は投票種別を表す。
type VoteType string

const (
	VoteTypeUpvote   VoteType = "upvote"
	VoteTypeDownvote VoteType = "downvote"
	// VoteTypeNone は未投票状態を表す。保存はされない。
	VoteTypeNone VoteType = ""
)

// IsValid はクライアントから指定可能な投票種別かどうかを返す。
func (v VoteType) IsValid() bool {
	return v == VoteTypeUpvote || v == VoteTypeDownvote
}

// Vote はユーザーと投稿の組に対する投票を表す。組ごとに一意。
type Vote struct {
	ID        int64
	UserID    string
	PostID    int64
	VoteType  VoteType
	CreatedAt time.Time
}

// VoteCounts は投票適用後の投稿カウンタを表す。
type VoteCounts struct {
	Upvotes   int
	Downvotes int
	UserScore int
	UserVote  VoteType
}

// VoteTransition は投票操作による状態遷移とカウンタ差分を表す。
type VoteTransition struct {
	Next          VoteType
	UpvoteDelta   int
	DownvoteDelta int
}

// NextVoteState は現在の投票状態とクリックされた種別から遷移を求める。
//
//	none     + X     -> X       (X側 +1)
//	X        + X     -> none    (X側 -1)
//	X        + Y     -> Y       (X側 -1, Y側 +1)
func NextVoteState(current, clicked VoteType) VoteTransition {
	delta := func(v VoteType, d int) (int, int) {
		if v == VoteTypeUpvote {
			return d, 0
		}
		return 0, d
	}

	switch current {
	case VoteTypeNone:
		up, down := delta(clicked, 1)
		return VoteTransition{Next: clicked, UpvoteDelta: up, DownvoteDelta: down}
	case clicked:
		up, down := delta(clicked, -1)
		return VoteTransition{Next: VoteTypeNone, UpvoteDelta: up, DownvoteDelta: down}
	default:
		upOld, downOld := delta(current, -1)
		upNew, downNew := delta(clicked, 1)
		return VoteTransition{Next: clicked, UpvoteDelta: upOld + upNew, DownvoteDelta: downOld + downNew}
	}
}
