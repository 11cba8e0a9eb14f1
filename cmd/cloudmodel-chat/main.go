// Command cloudmodel-chat is an interactive demo client for the
// CloudModel chat sample, grounded on drpcorg-chotki's cmd/main.go
// readline REPL: type a line, it becomes a chat post proposed through the
// engine; the predicted log re-renders after every line posted. Remote
// events do not trigger a re-render on their own: they show up the next
// time the log is rendered.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ergochat/readline"

	"github.com/matthewsj/cloudmodel/pkg/chatapp"
	"github.com/matthewsj/cloudmodel/pkg/engine"
	"github.com/matthewsj/cloudmodel/pkg/logging"
	"github.com/matthewsj/cloudmodel/pkg/transport/websocket"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: cloudmodel-chat <ws://host:port/ws> <username>")
		os.Exit(2)
	}
	url, username := os.Args[1], os.Args[2]

	log := logging.NewDefaultLogger(slog.LevelWarn)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:              username + "> ",
		HistoryFile:         "/tmp/cloudmodel-chat-history.tmp",
		AutoComplete:        completer,
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer rl.Close()
	rl.CaptureExitSignal()

	conn, err := websocket.Dial(url, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	render := func(shared chatapp.SharedState, local chatapp.LocalState) {
		fmt.Fprintln(os.Stderr)
		for _, post := range shared.Posts {
			fmt.Fprintf(os.Stderr, "%s: %s\n", post.Author, post.Text)
		}
	}
	adapter := chatapp.NewAdapter(username, render)
	eng := engine.New(*adapter, conn, log)
	conn.Start()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch line {
		case "exit", "quit":
			return
		case "help":
			fmt.Fprintln(os.Stderr, "type anything else to post it to the chat")
			continue
		}

		post := chatapp.Post{Author: username, Text: line}
		eng.Dispatch(engine.LocalOrigin[chatapp.Post, chatapp.LocalMsg]{ProposedEvent: &post})
		eng.Render()
	}
}
