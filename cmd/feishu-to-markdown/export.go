package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sleroq/feishu-to-markdown/internal/app/exporter"
	"github.com/sleroq/feishu-to-markdown/internal/config"
	feishudomain "github.com/sleroq/feishu-to-markdown/internal/domain/feishu"
	"github.com/sleroq/feishu-to-markdown/internal/infra/feishuapi"
)

var (
	spaceParent   string
	spaceMaxDepth int
	frontMatter   bool
	tableFormat   string
	concurrency   int
)

var docCmd = &cobra.Command{
	Use:   "doc <url|token>",
	Short: "Export one document (docx link, wiki link or docx token)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDoc,
}

var spaceCmd = &cobra.Command{
	Use:   "space <space-id|url>",
	Short: "Export a wiki space, or the subtree below a wiki node",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSpace,
}

var sheetCmd = &cobra.Command{
	Use:   "sheet <url|token>",
	Short: "Export every worksheet of a spreadsheet as Markdown tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runSheet,
}

var bitableCmd = &cobra.Command{
	Use:   "bitable <url|token>",
	Short: "Export every table of a bitable app as Markdown tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runBitable,
}

func init() {
	spaceCmd.Flags().StringVar(&spaceParent, "parent", "", "export only the subtree below this wiki node token")
	spaceCmd.Flags().IntVar(&spaceMaxDepth, "max-depth", 0, "stop descending below this depth (0 = unlimited)")

	for _, c := range []*cobra.Command{docCmd, spaceCmd, sheetCmd, bitableCmd} {
		c.Flags().BoolVar(&frontMatter, "front-matter", false, "prepend YAML front matter")
		c.Flags().StringVar(&tableFormat, "table-format", "", "table output: md or html")
		c.Flags().IntVar(&concurrency, "concurrency", 0, "documents exported in parallel")
	}
}

func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("front-matter") {
		cfg.Export.FrontMatter = frontMatter
	}
	if flags.Changed("table-format") {
		cfg.Export.TableFormat = strings.ToLower(tableFormat)
	}
	if flags.Changed("concurrency") {
		cfg.Export.Concurrency = concurrency
	}
	if flags.Changed("max-depth") {
		cfg.Export.MaxDepth = spaceMaxDepth
	}
}

func newClient(c *config.Config) (*feishuapi.Client, error) {
	if !c.Feishu.HasCredentials() {
		return nil, errors.New("no credentials: set feishu.access_token or feishu.app_id and feishu.app_secret (or FEISHU_ACCESS_TOKEN)")
	}
	var tokens feishuapi.TokenProvider
	if c.Feishu.AccessToken != "" {
		tokens = feishuapi.StaticToken(c.Feishu.AccessToken)
	} else {
		tokens = &feishuapi.TenantTokenProvider{
			BaseURL:   c.Feishu.BaseURL,
			AppID:     c.Feishu.AppID,
			AppSecret: c.Feishu.AppSecret,
		}
	}
	return feishuapi.New(feishuapi.Options{
		BaseURL:           c.Feishu.BaseURL,
		Tokens:            tokens,
		Timeout:           c.HTTP.Timeout.Duration,
		RequestsPerSecond: c.Rate.RequestsPerSecond,
		Burst:             c.Rate.Burst,
		MaxRetries:        c.HTTP.MaxRetries,
		Logger:            logger.Named("api"),
	}), nil
}

func newExporter(cmd *cobra.Command) (exporter.Exporter, error) {
	applyFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return exporter.Exporter{}, fmt.Errorf("invalid flags: %w", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return exporter.Exporter{}, err
	}
	return exporter.Exporter{
		Source:           client,
		Logger:           logger,
		TableFormat:      cfg.Export.TableFormat,
		WithBlockIDs:     cfg.Export.WithBlockIDs,
		FrontMatter:      cfg.Export.FrontMatter,
		Concurrency:      cfg.Export.Concurrency,
		MaxDepth:         cfg.Export.MaxDepth,
		FilenameEscaping: cfg.Export.FilenameEscaping,
		RunPrettier:      cfg.Export.Prettier,
	}, nil
}

func runDoc(cmd *cobra.Command, args []string) error {
	exp, err := newExporter(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ref, err := feishudomain.ParseRef(args[0], feishudomain.RefDocx)
	if err != nil {
		return err
	}

	kind, token := string(ref.Kind), ref.Token
	if ref.Kind == feishudomain.RefWiki {
		node, err := exp.Source.WikiNode(ctx, ref.Token)
		if err != nil {
			return fmt.Errorf("resolve wiki node %s: %w", ref.Token, err)
		}
		kind, token = node.ObjType, node.ObjToken
	}

	var res exporter.ExportResult
	switch kind {
	case feishudomain.ObjTypeDocx:
		res, err = exp.ExportDocument(ctx, token, cfg.Export.OutputDir)
	case feishudomain.ObjTypeSheet:
		res, err = exp.ExportSheet(ctx, token, cfg.Export.OutputDir)
	case feishudomain.ObjTypeBitable:
		res, err = exp.ExportBitable(ctx, token, cfg.Export.OutputDir)
	default:
		return fmt.Errorf("%s documents cannot be exported", kind)
	}
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func runSheet(cmd *cobra.Command, args []string) error {
	return runTables(cmd, args[0], feishudomain.RefSheet)
}

func runBitable(cmd *cobra.Command, args []string) error {
	return runTables(cmd, args[0], feishudomain.RefBitable)
}

func runTables(cmd *cobra.Command, arg string, kind feishudomain.RefKind) error {
	exp, err := newExporter(cmd)
	if err != nil {
		return err
	}
	ref, err := feishudomain.ParseRef(arg, kind)
	if err != nil {
		return err
	}
	if ref.Kind != kind {
		return fmt.Errorf("expected a %s link, got %s", kind, ref.Kind)
	}

	var res exporter.ExportResult
	if kind == feishudomain.RefSheet {
		res, err = exp.ExportSheet(cmd.Context(), ref.Token, cfg.Export.OutputDir)
	} else {
		res, err = exp.ExportBitable(cmd.Context(), ref.Token, cfg.Export.OutputDir)
	}
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func runSpace(cmd *cobra.Command, args []string) error {
	exp, err := newExporter(cmd)
	if err != nil {
		return err
	}

	req := exporter.SpaceRequest{ParentNodeToken: spaceParent}
	if len(args) == 1 {
		ref, err := feishudomain.ParseRef(args[0], feishudomain.RefSpace)
		if err != nil {
			return err
		}
		switch ref.Kind {
		case feishudomain.RefSpace:
			req.SpaceID = ref.Token
		case feishudomain.RefWiki:
			req.ParentNodeToken = ref.Token
		default:
			return fmt.Errorf("expected a wiki space or wiki node, got %s", ref.Kind)
		}
	}
	if req.SpaceID == "" && req.ParentNodeToken == "" {
		return errors.New("a space id, wiki link or --parent is required")
	}

	bar := exporter.NewProgressBar(1)
	exp.Progress = bar.Observe
	summary, err := exp.ExportSpace(cmd.Context(), req, cfg.Export.OutputDir)
	bar.Close()
	if err != nil {
		return err
	}

	printSummary(summary)
	return summaryError(summary)
}

// summaryError turns an incomplete space export into a non-zero exit.
func summaryError(s exporter.SpaceSummary) error {
	if s.Cancelled {
		return context.Canceled
	}
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", s.Failed, s.Failed+s.Succeeded)
	}
	if n := len(s.ListingErrors); n > 0 {
		return fmt.Errorf("%d wiki subtrees could not be listed", n)
	}
	return nil
}

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func printResult(res exporter.ExportResult) {
	fmt.Printf("%s %s\n", okStyle.Render("exported"), res.Path)
	if len(res.Assets) > 0 {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("  %d assets", len(res.Assets))))
	}
	for _, w := range res.Warnings {
		fmt.Println(warnStyle.Render("  warning: " + w.Error()))
	}
	logger.Debug("document exported", zap.String("path", res.Path), zap.Int("warnings", len(res.Warnings)))
}

func printSummary(s exporter.SpaceSummary) {
	fmt.Fprintf(os.Stdout, "%s %s: %d exported, %d skipped",
		okStyle.Render("space"), s.Dir, s.Succeeded, s.Skipped)
	if s.Failed > 0 {
		fmt.Fprint(os.Stdout, ", "+errStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	fmt.Fprintln(os.Stdout)
	for _, r := range s.Failures() {
		label := r.Title
		if label == "" {
			label = r.NodeToken
		}
		fmt.Println(errStyle.Render("  ✗ ") + label + mutedStyle.Render(": "+r.Err.Error()))
	}
	for _, le := range s.ListingErrors {
		fmt.Println(warnStyle.Render("  warning: ") + le.Error())
	}
	if s.Cancelled {
		fmt.Println(warnStyle.Render("  cancelled before the walk finished"))
	}
}
