package app

import "fmt"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker は照合スケジューラとHTTPサーバーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandServe はHTTPサーバーのみを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandRunOnce は有効な種別ごとに照合サイクルを1回だけ実行することを示す。
	CommandRunOnce Command = "run-once"
	// CommandSubscribe は購読を登録することを示す。
	CommandSubscribe Command = "subscribe"
	// CommandUnsubscribe は購読を解除することを示す。
	CommandUnsubscribe Command = "unsubscribe"
	// CommandStatus は追跡対象の一覧を表示することを示す。
	CommandStatus Command = "status"
	// CommandSearch は外部ソースを検索することを示す。
	CommandSearch Command = "search"
)

// usage はコマンドの使い方。
const usage = `usage: relnotify <command> [args]

commands:
  worker                                       照合スケジューラとHTTPサーバーを起動する（既定）
  serve                                        HTTPサーバーのみを起動する
  migrate                                      データベースマイグレーションを実行する
  healthcheck                                  /health にリクエストして稼働状態を確認する
  run-once                                     有効な種別ごとに照合サイクルを1回実行する
  subscribe <telegram_id> <kind> <external_id> 購読を登録する
  unsubscribe <telegram_id> <kind> <external_id>
                                               購読を解除する
  status [kind]                                追跡対象の一覧を表示する
  search <kind> <query>                        外部ソースで作品を検索する`

// commandArity はコマンドごとの引数の最小数と最大数。最大数が-1の場合は上限なし。
var commandArity = map[Command][2]int{
	CommandWorker:      {0, 0},
	CommandServe:       {0, 0},
	CommandMigrate:     {0, 0},
	CommandHealthcheck: {0, 0},
	CommandRunOnce:     {0, 0},
	CommandSubscribe:   {3, 3},
	CommandUnsubscribe: {3, 3},
	CommandStatus:      {0, 1},
	CommandSearch:      {2, -1},
}

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 引数が空の場合はCommandWorkerを返す。未知のコマンドや引数の数が合わない場合はエラーを返す。
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 {
		return CommandWorker, nil, nil
	}

	cmd := Command(args[0])
	arity, ok := commandArity[cmd]
	if !ok {
		return "", nil, fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}

	rest := args[1:]
	if len(rest) < arity[0] || (arity[1] >= 0 && len(rest) > arity[1]) {
		return "", nil, fmt.Errorf("invalid arguments for %s\n\n%s", cmd, usage)
	}
	return cmd, rest, nil
}
