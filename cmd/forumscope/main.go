// Command forumscope はホビーフォーラム集約サービスのエントリーポイント。
//
// 使い方:
//
//	forumscope [serve|worker|migrate|aggregate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/forumscope/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "forumscope: %v\n", err)
		os.Exit(1)
	}
}
