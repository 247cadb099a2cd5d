package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hexgo/hexgo/pkg/ejs"
	"github.com/hexgo/hexgo/pkg/theme"
	"github.com/spf13/cobra"
)

var renderCmd = cobra.Command{
	Use:   "render",
	Short: "Render one markdown page through a theme",
	RunE: func(cmd *cobra.Command, args []string) error {
		pagePath, _ := cmd.Flags().GetString("page")
		typeName, _ := cmd.Flags().GetString("type")
		out, _ := cmd.Flags().GetString("out")
		if pagePath == "" {
			return fmt.Errorf("no page specified (use --page)")
		}
		pt, err := theme.ParsePageType(typeName)
		if err != nil {
			return err
		}

		cfg, site, th, err := loadSite(cmd)
		if err != nil {
			return err
		}
		if out == "" {
			out = cfg.Output
		}

		data, err := os.ReadFile(pagePath)
		if err != nil {
			return fmt.Errorf("reading page: %w", err)
		}
		post, err := parsePage(pagePath, data)
		if err != nil {
			return err
		}
		if post.Permalink == "" {
			post.Permalink = site.URL + site.Root + post.Path
		}

		siteData := theme.NewSiteData([]theme.Post{post}, nil)
		var ctx *ejs.Context
		switch pt {
		case theme.TypePost, theme.TypePage:
			if pt == theme.TypePage && post.Layout == "" {
				post.Layout = "page"
			}
			ctx = theme.BuildPostContext(post, site, siteData)
		default:
			p := theme.DefaultPagination()
			p.PerPage = site.PerPage
			p.IsHome = pt == theme.TypeIndex
			p.IsArchive = pt == theme.TypeArchive
			p.IsCategory = pt == theme.TypeCategory
			p.IsTag = pt == theme.TypeTag
			if p.IsCategory && len(post.Categories) > 0 {
				p.Category = post.Categories[0]
			}
			if p.IsTag && len(post.Tags) > 0 {
				p.Tag = post.Tags[0]
			}
			ctx = theme.BuildListContext([]theme.Post{post}, site, siteData, p)
		}

		html, err := th.RenderPage(cmd.Context(), pt, ctx)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", pagePath, err)
		}

		if out == "" {
			_, err = fmt.Fprint(cmd.OutOrStdout(), html)
			return err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, []byte(html), 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		slog.Info("page written", "page", pagePath, "out", out, "type", pt.String())
		return nil
	},
}
