package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/stevemurr/docstore/codec"
	"github.com/stevemurr/docstore/column"
	"github.com/stevemurr/docstore/handler"
	"github.com/stevemurr/docstore/schema"
	"github.com/stevemurr/docstore/store"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	dialectName string
	dsn         string
	table       string
	schemaPath  string
	promote     string
	idGen       string
	lenient     bool
	logLevel    string
	logFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "docstore",
	Short: "Document table tooling",
	Long: `Manage a document table stored in PostgreSQL or SQLite: declared keys chosen
with --promote get their own columns, everything else lives in one JSON column.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd.ErrOrStderr())
	},
}

func setupLogging(w io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch logFormat {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
	default:
		return fmt.Errorf("invalid log format %q (supported: text, json)", logFormat)
	}
	return nil
}

// openRepository opens the table described by the global flags.
func openRepository(reg prometheus.Registerer) (*store.Repository, error) {
	opts := store.DefaultOptions()
	opts.Table = table
	opts.Strict = !lenient
	opts.Logger = slog.Default()
	opts.Registerer = reg
	if schemaPath != "" {
		s, err := schema.LoadJSONSchema(schemaPath)
		if err != nil {
			return nil, err
		}
		opts.Schema = s
	}
	if promote != "" {
		var keys column.PromoteKeys
		for _, k := range strings.Split(promote, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		opts.Promote = keys
	}
	ids, err := store.IDGeneratorFor(idGen)
	if err != nil {
		return nil, err
	}
	opts.IDs = ids
	r, err := store.Open(dialectName, dsn, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store (dialect=%s): %w", dialectName, err)
	}
	return r, nil
}

// withConnection opens the table, creating it when missing, and runs fn on a
// connection.
func withConnection(ctx context.Context, fn func(c *store.Connection) error) error {
	r, err := openRepository(nil)
	if err != nil {
		return err
	}
	defer r.Close()
	if err := r.Init(ctx); err != nil {
		return err
	}
	c, err := r.Connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the document table, or check an existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepository(nil)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := r.Init(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Table %q ready (%s, %d columns)\n", r.Table(), r.Dialect().Name(), len(r.Layout().Columns()))
		return nil
	},
}

var columnsCmd = &cobra.Command{
	Use:   "columns",
	Short: "Show the column layout and its DDL",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepository(nil)
		if err != nil {
			return err
		}
		defer r.Close()
		out := cmd.OutOrStdout()
		for _, c := range r.Layout().Columns() {
			key := c.Key
			if c.IsResidual() {
				key = "(residual)"
			}
			fmt.Fprintf(out, "%-20s %-20s %s\n", c.Name, key, r.Dialect().ColumnType(c.Type))
		}
		if ddl, _ := cmd.Flags().GetBool("ddl"); ddl {
			fmt.Fprintln(out)
			for _, stmt := range r.Dialect().CreateTable(r.Table(), r.Layout().Columns(), idGen == "sequence") {
				fmt.Fprintf(out, "%s;\n", stmt)
			}
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Print documents as JSON, one per line",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(c *store.Connection) error {
			docs, err := c.ReadMany(cmd.Context(), args...)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				text, err := codec.Encode(doc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			if len(docs) < len(args) {
				return fmt.Errorf("%d of %d documents not found", len(args)-len(docs), len(args))
			}
			return nil
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create [file]",
	Short: "Create documents from JSON objects, one per line (stdin by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		b, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		return withConnection(cmd.Context(), func(c *store.Connection) error {
			decode := codec.Decode
			if lenient {
				decode = codec.DecodeLenient
			}
			types := c.Layout().Types()
			for i, line := range strings.Split(string(b), "\n") {
				if strings.TrimSpace(line) == "" {
					continue
				}
				doc, err := decode(line, types)
				if err != nil {
					return fmt.Errorf("line %d: %w", i+1, err)
				}
				id, err := c.Create(cmd.Context(), doc)
				if err != nil {
					return fmt.Errorf("line %d: %w", i+1, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents and their descendants",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConnection(cmd.Context(), func(c *store.Connection) error {
			n, err := c.Delete(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d documents\n", n)
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the document table over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		origins, _ := cmd.Flags().GetString("origins")

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		r, err := openRepository(reg)
		if err != nil {
			return err
		}
		defer r.Close()
		if err := r.Init(cmd.Context()); err != nil {
			return err
		}

		h := handler.New(r, reg, slog.Default())
		wrapped := corsMiddleware(h, strings.Split(origins, ","))
		slog.Info("docstore listening", "addr", addr, "dialect", r.Dialect().Name(), "table", r.Table())
		return http.ListenAndServe(addr, wrapped)
	},
}

// corsMiddleware wraps an http.Handler with CORS headers.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-Match")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dialectName, "dialect", env("DOCSTORE_DIALECT", "sqlite"), "Backend: postgres or sqlite")
	flags.StringVar(&dsn, "dsn", env("DOCSTORE_DSN", "./data/docstore.db"), "Database URL, or SQLite file path")
	flags.StringVar(&table, "table", env("DOCSTORE_TABLE", "documents"), "Document table name")
	flags.StringVar(&schemaPath, "schema", env("DOCSTORE_SCHEMA", ""), "JSON Schema file declaring the document fields")
	flags.StringVar(&promote, "promote", env("DOCSTORE_PROMOTE", ""), "Comma separated keys stored in their own columns")
	flags.StringVar(&idGen, "ids", env("DOCSTORE_IDS", "uuid"), "Id generator: uuid, sequence or counter")
	flags.BoolVar(&lenient, "lenient", env("DOCSTORE_LENIENT", "") == "true", "Store keys the schema does not declare")
	flags.StringVar(&logLevel, "log-level", env("DOCSTORE_LOG_LEVEL", "info"), "Log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", env("DOCSTORE_LOG_FORMAT", "text"), "Log format: text or json")

	columnsCmd.Flags().Bool("ddl", false, "Also print the CREATE statements")
	serveCmd.Flags().String("addr", env("DOCSTORE_ADDR", "0.0.0.0:8080"), "Listen address")
	serveCmd.Flags().String("origins", env("ALLOWED_ORIGINS", "*"), "Comma separated CORS origins")

	rootCmd.AddCommand(initCmd, columnsCmd, getCmd, createCmd, deleteCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
