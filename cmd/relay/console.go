package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kehao95/relay/internal/config"
	"github.com/kehao95/relay/internal/gateway"
	"github.com/kehao95/relay/internal/policy"
)

func newConsoleCmd(cfg func() *config.Config) *cobra.Command {
	var senderID string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Chat with relay from the terminal, one message per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			go a.watchConfig(ctx)

			sender := policy.Sender{ID: senderID, Chat: "console", Channel: "console"}
			runConsole(ctx, a.gateway, sender, cmd.InOrStdin(), cmd.OutOrStdout())
			return a.close()
		},
	}
	cmd.Flags().StringVar(&senderID, "sender", "console", "sender id used for elevation checks")
	return cmd
}

// runConsole feeds each input line to the gateway. Messages are handled
// concurrently so that /stop and shell commands can be sent while the
// agent is busy. It returns after input ends and every reply is printed,
// or when ctx is done.
func runConsole(ctx context.Context, gw *gateway.Gateway, sender policy.Sender, in io.Reader, out io.Writer) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply, _ := gw.Handle(ctx, sender, line)
				mu.Lock()
				fmt.Fprintln(out, reply)
				mu.Unlock()
			}()
		}
	}
}
