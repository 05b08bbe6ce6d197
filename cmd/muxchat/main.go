// Command muxchat is an interactive terminal client for a running gateway.
// It keeps the conversation history in memory and streams assistant output
// as it arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/modelmux/modelmux/pkg/client"
	"github.com/modelmux/modelmux/pkg/protocol"
)

func main() {
	var (
		baseURL = flag.String("base-url", "http://127.0.0.1:8000", "gateway base URL")
		model   = flag.String("model", "echo:", "model identifier, e.g. openai:gpt-4o-mini")
		apiKey  = flag.String("api-key", os.Getenv("MODELMUX_API_KEY"), "gateway API key")
		system  = flag.String("system", "", "system prompt")
	)
	flag.Parse()

	opts := []client.Option{}
	if *apiKey != "" {
		opts = append(opts, client.WithAPIKey(*apiKey))
	}
	gw := client.New(*baseURL, opts...)

	rl, err := readline.New("you> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "muxchat: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("muxchat connected to %s (model %s)\n", *baseURL, *model)
	fmt.Println("commands: /image <path> <prompt>, /reset, /quit")

	var history []protocol.Message
	if *system != "" {
		history = append(history, protocol.SystemMessage(*system))
	}

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "muxchat: %v\n", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return
		case line == "/reset":
			history = history[:0]
			if *system != "" {
				history = append(history, protocol.SystemMessage(*system))
			}
			fmt.Println("history cleared")
			continue
		case strings.HasPrefix(line, "/image "):
			rest := strings.TrimPrefix(line, "/image ")
			path, prompt, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /image <path> <prompt>")
				continue
			}
			msg, err := client.BuildUserMessage(prompt, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "muxchat: %v\n", err)
				continue
			}
			history = append(history, msg)
		default:
			history = append(history, protocol.UserMessage(line))
		}

		reply, err := runTurn(gw, *model, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "muxchat: %v\n", err)
			// Drop the failed turn so a retry does not double the prompt.
			history = history[:len(history)-1]
			continue
		}
		history = append(history, protocol.AssistantMessage(reply))
	}
}

// runTurn streams one exchange, printing deltas as they land, and returns
// the assembled assistant text for the history.
func runTurn(gw *client.Client, model string, history []protocol.Message) (string, error) {
	var reply strings.Builder
	err := gw.Stream(context.Background(), protocol.Request{
		Model: model,
		Input: history,
	}, func(ev protocol.Event) {
		switch ev.Type {
		case protocol.EventDelta:
			fmt.Print(ev.TextFragment)
			reply.WriteString(ev.TextFragment)
		case protocol.EventCompleted:
			fmt.Println()
			if reply.Len() == 0 {
				fmt.Println(ev.FinalText)
				reply.WriteString(ev.FinalText)
			}
		}
	})
	if err != nil {
		return "", err
	}
	return reply.String(), nil
}
