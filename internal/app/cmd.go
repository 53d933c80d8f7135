package app

import (
	"flag"
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker はスケジューラ・HTTP API・保持期間ジョブを常駐させるモード。
	CommandWorker Command = "worker"
	// CommandRunOnce は手動サイクルを1回実行して終了するモード。
	CommandRunOnce Command = "run-once"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch args[0] {
	case "run-once":
		return CommandRunOnce
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandWorker
	}
}

// runOnceOptions はrun-onceサブコマンドのオプション。
type runOnceOptions struct {
	Location *int64
}

// parseRunOnceArgs はrun-onceサブコマンドの引数を解析する。argsはサブコマンド名を含まない。
func parseRunOnceArgs(args []string, output io.Writer) (runOnceOptions, error) {
	var opts runOnceOptions

	fs := flag.NewFlagSet(string(CommandRunOnce), flag.ContinueOnError)
	fs.SetOutput(output)
	location := fs.Int64("location", 0, "対象ロケーションID（省略時は全ロケーション）")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if *location < 0 {
		return opts, fmt.Errorf("location must be positive: %d", *location)
	}
	if *location > 0 {
		opts.Location = location
	}
	return opts, nil
}
