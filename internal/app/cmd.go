package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はローカルAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は統計値同期ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はバックエンドのスキーママイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示することを示す。
	CommandHelp Command = "help"
)

// commands は表示順に並べたサブコマンドと説明。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the local API server (default)"},
	{CommandWorker, "refresh repository stats on a schedule"},
	{CommandMigrate, "apply the backend schema migrations"},
	{CommandHealthcheck, "probe /health of a running server"},
	{CommandHelp, "show this help"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch args[0] {
	case "-h", "--help":
		return CommandHelp
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd
		}
	}
	return CommandServe
}

// PrintUsage はサブコマンドの一覧をwに書き出す。
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: directory <command>")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
}
