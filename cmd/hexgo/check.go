package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/hexgo/hexgo/pkg/ejs"
	"github.com/hexgo/hexgo/pkg/theme"
	"github.com/spf13/cobra"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	nameStyle   = lipgloss.NewStyle().Width(32)
	engineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	headerStyle = lipgloss.NewStyle().Underline(true)
)

// checkRow is one line of the check report.
type checkRow struct {
	name   string
	engine ejs.Engine
	err    error
}

func checkRows(th *theme.Theme) []checkRow {
	errs := th.ParseErrors()
	var rows []checkRow
	for _, name := range th.TemplateNames() {
		src, _ := th.Source(name)
		rows = append(rows, checkRow{name: name, engine: ejs.Route(src), err: errs[name]})
	}
	return rows
}

func writeReport(w io.Writer, dir string, rows []checkRow, validation error) (failed int) {
	fmt.Fprintln(w, headerStyle.Render("Theme "+dir))
	for _, r := range rows {
		status := okStyle.Render("OK  ")
		if r.err != nil {
			status = failStyle.Render("FAIL")
			failed++
		}
		line := status + " " + nameStyle.Render(r.name) + engineStyle.Render(string(r.engine))
		if r.err != nil {
			line += " " + r.err.Error()
		}
		fmt.Fprintln(w, line)
	}
	if validation != nil {
		fmt.Fprintln(w, warnStyle.Render("WARN")+" "+validation.Error())
	}
	fmt.Fprintf(w, "%d templates, %d failed\n", len(rows), failed)
	return failed
}

var checkCmd = cobra.Command{
	Use:   "check",
	Short: "Parse every template of a theme and report which engine renders it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadHexgoConfig(cmd)
		if err != nil {
			return err
		}
		th, err := theme.Load(cfg.Theme, theme.Options{Language: cfg.Language, PoolSize: cfg.PoolSize})
		if err != nil {
			var parseErr *ejs.ParseError
			if errors.As(err, &parseErr) {
				fmt.Fprintln(cmd.OutOrStdout(), failStyle.Render("FAIL")+" "+nameStyle.Render(theme.DefaultLayout)+" "+parseErr.Error())
			}
			return err
		}
		writeReport(cmd.OutOrStdout(), cfg.Theme, checkRows(th), th.Validate())
		return nil
	},
}

var templatesCmd = cobra.Command{
	Use:   "templates",
	Short: "List the templates a theme provides",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadHexgoConfig(cmd)
		if err != nil {
			return err
		}
		th, err := theme.Load(cfg.Theme, theme.Options{Language: cfg.Language})
		if err != nil {
			return err
		}
		for _, name := range th.TemplateNames() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}
