// Command rulectl tokenizes, parses, expands and evaluates rule expressions
// offline, against a YAML fixture instead of a database.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/infrastructure/config"
	"github.com/asakaida/rowguard/internal/infrastructure/logging"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/evaluation"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/internal/services/parser"
)

type options struct {
	fixture  string
	maxDepth int
	logLevel string
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "rulectl",
		Short:         "Inspect and try out rule expressions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&opts.fixture, "fixture", "f", "", "YAML fixture with user, record, macros and collections")
	root.PersistentFlags().IntVar(&opts.maxDepth, "max-depth", macro.DefaultMaxDepth, "Maximum macro expansion depth")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newTokenizeCmd(),
		newParseCmd(),
		newExpandCmd(opts),
		newEvalCmd(opts),
		newCheckCmd(opts),
	)
	return root
}

func newTokenizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokenize <rule>",
		Short: "Print the tokens of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := parser.Tokenize(args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "POS\tTYPE\tVALUE")
			for _, tok := range tokens {
				fmt.Fprintf(w, "%d:%d\t%s\t%q\n", tok.Line, tok.Column, tok.Type, tok.Value)
			}
			return w.Flush()
		},
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <rule>",
		Short: "Print the fully parenthesized syntax tree of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := parser.ParseString(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), node.String())
			return nil
		},
	}
}

func newExpandCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <rule>",
		Short: "Expand macros in a list rule into a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd, opts)
			if err != nil {
				return err
			}

			expanded, err := env.expander.Expand(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), expanded)
			return nil
		},
	}
}

func newEvalCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <rule>",
		Short: "Evaluate a rule against the fixture's user and record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd, opts)
			if err != nil {
				return err
			}

			node, err := parser.ParseString(args[0])
			if err != nil {
				return err
			}

			user := env.fixture.UserEntity()
			var auth any
			if user != nil {
				auth = user
			}
			ectx := evaluation.NewContext(map[string]any{
				evaluation.RootUser:        auth,
				evaluation.RootRecord:      env.fixture.Record,
				evaluation.RootRequest:     map[string]any{"auth": auth, "data": env.fixture.Data},
				evaluation.RootPermissions: env.fixture.Permissions,
				"auth":                     auth,
			})

			value, err := env.evaluator.Evaluate(cmd.Context(), node, ectx)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), map[string]any{
				"value":   value,
				"allowed": evaluation.Truthy(value),
			})
		},
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <collection> <operation>",
		Short: "Resolve the fixture's collection rules for one operation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := entities.ParseOperation(args[1])
			if err != nil {
				return err
			}

			env, err := newEnvironment(cmd, opts)
			if err != nil {
				return err
			}

			decision, err := env.resolver.Resolve(cmd.Context(), &authorization.Request{
				User:        env.fixture.UserEntity(),
				Collection:  args[0],
				Operation:   op,
				Record:      env.fixture.Record,
				Data:        env.fixture.Data,
				Permissions: env.fixture.Permissions,
			})
			if err != nil {
				return err
			}

			out := map[string]any{
				"allowed": decision.Allowed,
				"reason":  decision.Reason,
				"origin":  string(decision.Origin),
			}
			if decision.Filter != "" {
				out["filter"] = decision.Filter
			}
			if decision.Fields != nil {
				out["fields"] = decision.Fields
			}
			return printYAML(cmd.OutOrStdout(), out)
		},
	}
}

// environment is the rule engine wired over a fixture
type environment struct {
	fixture   *Fixture
	expander  *macro.Expander
	evaluator *evaluation.Evaluator
	resolver  *authorization.Resolver
}

func newEnvironment(cmd *cobra.Command, opts *options) (*environment, error) {
	logger, err := logging.NewWithSink(config.LogConfig{Level: opts.logLevel, Format: "console"}, zapcore.AddSync(cmd.ErrOrStderr()))
	if err != nil {
		return nil, err
	}

	fixture, err := loadFixture(opts.fixture)
	if err != nil {
		return nil, err
	}
	clock, err := fixture.Clock()
	if err != nil {
		return nil, err
	}
	w, err := fixture.build(cmd.Context())
	if err != nil {
		return nil, err
	}

	engine := macro.NewEngine(w.macros, w.session,
		macro.WithGroupSource(w.groups),
		macro.WithClock(clock),
		macro.WithEngineLogger(logger.Named("macro")),
	)
	expander := macro.NewExpander(w.macros,
		macro.WithMaxDepth(opts.maxDepth),
		macro.WithExpanderLogger(logger.Named("expander")),
	)
	evaluator := evaluation.NewEvaluator(engine)

	return &environment{
		fixture:   fixture,
		expander:  expander,
		evaluator: evaluator,
		resolver: authorization.NewResolver(w.rules, w.permissions, expander, evaluator,
			authorization.WithLogger(logger.Named("resolver")),
		),
	}, nil
}

func printYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

