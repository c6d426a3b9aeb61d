package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"chatgate/internal/app"
	"chatgate/internal/core"
)

type chatOptions struct {
	model    string
	system   string
	endpoint string
	noStream bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a single prompt upstream and print the answer",
		Long: "Send a single prompt upstream and print the answer.\n" +
			"The prompt is read from the arguments, or from stdin when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return errors.New("empty prompt")
			}

			cfg, err := root.load()
			if err != nil {
				return err
			}

			req := &core.ChatRequest{
				Endpoint:      cfg.Upstream.Endpoint,
				APIKey:        cfg.Upstream.APIKey,
				AggregatorKey: cfg.Upstream.AggregatorKey,
				Headers:       cfg.Upstream.Headers,
				Config:        cfg.Gateway.Defaults,
			}
			if opts.endpoint != "" {
				req.Endpoint = opts.endpoint
			}
			if opts.model != "" {
				req.Config.Model = opts.model
			}
			if opts.system != "" {
				req.Messages = append(req.Messages, core.NewTextMessage(core.RoleSystem, opts.system))
			}
			req.Messages = append(req.Messages, core.NewTextMessage(core.RoleUser, prompt))

			return runChat(cmd, app.NewGateway(cfg, nil, nil), req, !opts.noStream)
		},
	}
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "model name (default from config)")
	cmd.Flags().StringVarP(&opts.system, "system", "s", "", "system prompt")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "upstream chat completions URL (overrides config)")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "wait for the full answer instead of streaming")
	return cmd
}

func runChat(cmd *cobra.Command, gw core.Completer, req *core.ChatRequest, stream bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !stream {
		resp, err := gw.Complete(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, gjson.GetBytes(resp, "choices.0.message.content").String())
		return nil
	}

	events, err := gw.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer events.Close()

	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintln(out)
			return err
		}
		if ev.Kind == core.EventChunk {
			fmt.Fprint(out, gjson.GetBytes(ev.Data, "choices.0.delta.content").String())
		}
		if ev.IsDone() {
			break
		}
	}
	fmt.Fprintln(out)
	return nil
}
