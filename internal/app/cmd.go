package app

// Command はsolifyバイナリの起動モードを表す。
type Command string

const (
	// CommandServe はウォレットAPI (signup/signin, 署名送信, 残高照会) を提供する。
	CommandServe Command = "serve"
	// CommandWorker は未確定トランザクションの確定追跡と履歴の保持期間整理を定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers/transactionsスキーマを最新版まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIサーバーの /health を叩いて終了コードで結果を返す。
	// シェルを持たないdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数から起動モードを決める。2番目以降の引数は見ない。
// 引数なし、または未知のモード名はAPIサーバーとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// needsChain はSolana RPCへの接続が必要なモードかを返す。
func (c Command) needsChain() bool {
	return c == CommandServe || c == CommandWorker
}
