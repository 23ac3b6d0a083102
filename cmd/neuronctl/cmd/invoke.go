package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/endpoint"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/sagemaker"
)

var (
	invokePrompt    string
	invokeStream    bool
	invokeURL       string
	invokeChat      bool
	invokeMaxTokens int
	invokeRegion    string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [endpoint]",
	Short: "Send a prompt to an endpoint",
	Long: `Send a prompt to a SageMaker endpoint, or with --url to a TGI or vLLM
server reachable over plain HTTP.

Examples:
  neuronctl invoke my-endpoint
  neuronctl invoke my-endpoint --stream --prompt "What is deep-learning ?"
  neuronctl invoke --url http://localhost:8080 --stream
  neuronctl invoke --url http://localhost:8080 --chat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInvoke,
}

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVar(&invokePrompt, "prompt", "What is deep-learning ?", "The test prompt")
	invokeCmd.Flags().BoolVar(&invokeStream, "stream", false, "Stream generated tokens")
	invokeCmd.Flags().StringVar(&invokeURL, "url", "", "Base URL of a plain HTTP server instead of a SageMaker endpoint")
	invokeCmd.Flags().BoolVar(&invokeChat, "chat", false, "Use the chat completions API (always streams)")
	invokeCmd.Flags().IntVar(&invokeMaxTokens, "max-new-tokens", 64, "Maximum number of generated tokens")
	invokeCmd.Flags().StringVar(&invokeRegion, "region", "", "AWS region (defaults to aws.region)")
}

// newEndpointClient returns a client for a SageMaker endpoint, or for a
// plain HTTP server when url is set.
func newEndpointClient(args []string, url, region string, chat bool) (endpoint.Client, error) {
	if url != "" {
		var opts []endpoint.HTTPOption
		if chat {
			opts = append(opts, endpoint.WithChatCompletions())
		}
		return endpoint.NewHTTPClient(url, opts...), nil
	}

	if len(args) == 0 {
		return nil, errors.New("an endpoint name or --url is required")
	}
	clients, err := sagemaker.NewClients(firstNonEmpty(region, cfg.AWS.Region))
	if err != nil {
		return nil, err
	}
	return clients.NewRuntime().Endpoint(args[0]), nil
}

func runInvoke(cmd *cobra.Command, args []string) error {
	client, err := newEndpointClient(args, invokeURL, invokeRegion, invokeChat)
	if err != nil {
		return err
	}

	ctx := logging.WithEndpoint(cmd.Context(), client.Name())
	ctx = logging.WithRequestID(ctx, uuid.New().String())
	out := cmd.OutOrStdout()

	if invokeChat {
		res, err := endpoint.StreamChat(ctx, client, endpoint.NewChatRequest("", invokePrompt, invokeMaxTokens))
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(out, res)
		}
		fmt.Fprintln(out, res.Content)
		logger.Info("generation complete",
			slog.Int("prompt_tokens", res.PromptTokens),
			slog.Int("completion_tokens", res.CompletionTokens),
			slog.Duration("ttft", res.TTFT),
			slog.Duration("total", res.Total))
		return nil
	}

	req := endpoint.NewTGIRequest(invokePrompt, invokeStream)
	req.Parameters.MaxNewTokens = invokeMaxTokens

	if !invokeStream {
		text, err := endpoint.InvokeTGI(ctx, client, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	}

	// Print only what each token adds to the running output
	printed := 0
	res, err := endpoint.StreamTGI(ctx, client, req, func(output string) {
		fmt.Fprint(out, output[printed:])
		printed = len(output)
	})
	if printed > 0 {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}
	logger.Info("generation complete",
		slog.Int("tokens", res.Tokens),
		slog.Duration("ttft", res.TTFT),
		slog.Duration("total", res.Total))
	return nil
}
