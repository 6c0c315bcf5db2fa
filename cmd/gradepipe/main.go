package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gradepipe/gradepipe/internal/providers"
	"github.com/gradepipe/gradepipe/internal/repository"
	"github.com/gradepipe/gradepipe/pkg/app"
	"github.com/gradepipe/gradepipe/pkg/config"
	"github.com/gradepipe/gradepipe/pkg/domain"
	_ "github.com/gradepipe/gradepipe/pkg/persistence/memory" // register memory provider
	_ "github.com/gradepipe/gradepipe/pkg/persistence/redis"  // register redis provider
)

type ui struct {
	title func(a ...interface{}) string
	ok    func(a ...interface{}) string
	info  func(a ...interface{}) string
	warn  func(a ...interface{}) string
	err   func(a ...interface{}) string
	dim   func(a ...interface{}) string
	tty   bool
}

func newUI() *ui {
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	if !tty {
		color.NoColor = true
	}
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
		tty:   tty,
	}
}

func (u *ui) spin(message string) func() {
	if !u.tty {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	return s.Stop
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openApp builds a read-only application: no parser or timestamp provider,
// the CLI never runs the refresh cycle.
func openApp(cfgPath string) (*app.Application, error) {
	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.NewApplication(cfg)
}

func main() {
	cfgPath := getenv("GRADEPIPE_CONFIG_PATH", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "gradepipe",
		Short: "gradepipe CLI",
		Long:  "Inspection CLI for gradepipe assignment definitions and graded runs.",
	}
	root.SilenceUsage = true
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "Path to config file")

	root.AddCommand(definitionsCmd(&cfgPath, ui))
	root.AddCommand(runsCmd(&cfgPath, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func definitionsCmd(cfgPath *string, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Browse assignment definitions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registry records (partial tier only, no content is loaded)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			stop := ui.spin("Scanning registry")
			recs, err := a.Definitions.ListDefinitions(cmd.Context())
			stop()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println(ui.dim("no definitions in registry"))
				return nil
			}
			fmt.Println(ui.title("DEFINITIONS"))
			for _, rec := range recs {
				year := "-"
				if rec.YearGroup != nil {
					year = fmt.Sprintf("%d", *rec.YearGroup)
				}
				fmt.Printf("%s  %s  %s  %s  %s\n",
					ui.ok(rec.PrimaryTitle),
					ui.info(rec.PrimaryTopic),
					ui.dim("year="+year),
					ui.dim("type="+rec.DocumentType),
					ui.dim("updated="+rec.UpdatedAt.Format(time.RFC3339)),
				)
			}
			return nil
		},
	}

	var partial bool
	show := &cobra.Command{
		Use:   "show <definition-key>",
		Short: "Show one definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			form := domain.HydrationFull
			if partial {
				form = domain.HydrationPartial
			}
			def, rec, err := a.Definitions.GetDefinition(cmd.Context(), args[0], form)
			if err != nil {
				return err
			}
			if partial {
				if rec == nil {
					return fmt.Errorf("definition %q not found in registry", args[0])
				}
				return printJSON(rec)
			}
			if def == nil {
				return fmt.Errorf("definition %q not found in heavy store", args[0])
			}
			return printJSON(def)
		},
	}
	show.Flags().BoolVar(&partial, "partial", false, "Read the registry record instead of the full definition")

	var outDir string
	export := &cobra.Command{
		Use:   "export",
		Short: "Dump every full definition to JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			recs, err := a.Definitions.ListDefinitions(cmd.Context())
			if err != nil {
				return err
			}
			sink := providers.NewLocalUploader(outDir)
			bar := progressbar.NewOptions(len(recs),
				progressbar.OptionSetDescription("Exporting definitions"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			exported := 0
			for _, rec := range recs {
				def, _, err := a.Definitions.GetDefinition(cmd.Context(), rec.DefinitionKey, domain.HydrationFull)
				if err != nil {
					return err
				}
				_ = bar.Add(1)
				if def == nil {
					fmt.Fprintln(os.Stderr, ui.warn("[WARN]"), "registry record without heavy record:", rec.DefinitionKey)
					continue
				}
				data, err := json.MarshalIndent(def, "", "  ")
				if err != nil {
					return err
				}
				name := repository.DefinitionCollection(rec.DefinitionKey) + ".json"
				if _, err := sink.UploadBytes(cmd.Context(), name, "application/json", data); err != nil {
					return err
				}
				exported++
			}
			fmt.Println(ui.ok("exported"), exported, "of", len(recs), "definitions to", outDir)
			return nil
		},
	}
	export.Flags().StringVar(&outDir, "out", "definitions-export", "Output directory")

	cmd.AddCommand(list, show, export)
	return cmd
}

func runsCmd(cfgPath *string, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse graded assignment runs",
	}

	show := &cobra.Command{
		Use:   "show <course-id> <assignment-id>",
		Short: "Show one full graded run as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			repo := repository.NewAssignmentRunRepository(a.Store, a.Logger)

			stop := ui.spin("Loading run")
			run, err := repo.GetRun(cmd.Context(), args[0], args[1])
			stop()
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := a.Store.Health(ctx); err != nil {
				return fmt.Errorf("store unhealthy: %w", err)
			}
			fmt.Println(ui.ok("store healthy"), ui.dim("provider="+a.Config.StoreProvider))
			return nil
		},
	}

	cmd.AddCommand(show, health)
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimSpace(string(data)))
	return nil
}
