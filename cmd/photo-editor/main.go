package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	photoeditor "github.com/menta2k/photo-editor"
	"github.com/menta2k/photo-editor/internal/config"
	"github.com/menta2k/photo-editor/internal/logging"
	"github.com/menta2k/photo-editor/internal/utils"
	"github.com/menta2k/photo-editor/pkg/filters"
	"github.com/menta2k/photo-editor/pkg/overlay"
	"github.com/menta2k/photo-editor/pkg/types"
)

func main() {
	var in, outDir, filterName, cropArg, text, colorName, posArg, format, configPath string
	var rotate int
	var size float64
	var suggestCrop, debug, listFilters bool

	flag.StringVar(&in, "in", "", "input image path, URL, or directory of images")
	flag.StringVar(&outDir, "out", "", "output directory (overrides config)")
	flag.StringVar(&filterName, "filter", "none", "filter: "+strings.Join(filterNames(), "|"))
	flag.IntVar(&rotate, "rotate", 0, "number of 90 degree clockwise turns")
	flag.StringVar(&cropArg, "crop", "", "crop rectangle x,y,w,h (after rotation)")
	flag.BoolVar(&suggestCrop, "suggest-crop", false, "crop to the suggested square (vision backend from config)")
	flag.StringVar(&text, "text", "", "overlay text")
	flag.StringVar(&colorName, "color", "", "overlay colour: palette name or #rrggbb")
	flag.StringVar(&posArg, "pos", "0,0", "overlay baseline position x,y")
	flag.Float64Var(&size, "size", 0, "overlay font size (defaults to config)")
	flag.StringVar(&format, "format", "", "output format: png|webp (overrides config)")
	flag.StringVar(&configPath, "config", "", "config file (default "+config.GetConfigPath()+" when present)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&listFilters, "list-filters", false, "print the available filters and exit")

	flag.Parse()
	if listFilters {
		for _, name := range filterNames() {
			fmt.Println(name)
		}
		return
	}
	if in == "" {
		log.Fatalf("usage: %s -in photo.jpg|URL|dir [-out dir] [-filter name] [-rotate n] [-crop x,y,w,h | -suggest-crop] [-text s -color c -pos x,y -size n] [-format png|webp]", filepath.Base(os.Args[0]))
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}

	pe, err := photoeditor.NewWithConfig(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	edits, err := parseEdits(cfg, filterName, rotate, cropArg, suggestCrop, text, colorName, posArg, size)
	if err != nil {
		logger.WithError(err).Fatal("invalid arguments")
	}

	inputs := []string{in}
	if utils.DirExists(in) {
		inputs, err = utils.ListImageFiles(in)
		if err != nil {
			logger.WithError(err).Fatal("failed to list images")
		}
		if len(inputs) == 0 {
			logger.WithField("dir", in).Fatal("no images found")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := 0
	for _, input := range inputs {
		addr, err := pe.ProcessFile(ctx, input, edits)
		if err != nil {
			failed++
			logger.WithField("input", input).WithError(err).Error("edit failed")
			continue
		}

		fields := logrus.Fields{"input": input, "output": addr}
		if info, err := os.Stat(addr); err == nil {
			fields["size"] = utils.FormatFileSize(info.Size())
		}
		logger.WithFields(fields).Info("wrote image")
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if def := config.GetConfigPath(); fileExists(def) {
			path = def
		}
	}
	return config.LoadFromFile(path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func filterNames() []string {
	var names []string
	for _, k := range filters.All() {
		names = append(names, k.String())
	}
	return names
}

func parseEdits(cfg *config.Config, filterName string, rotate int, cropArg string, suggestCrop bool, text, colorName, posArg string, size float64) (photoeditor.Edits, error) {
	kind, err := filters.ParseKind(filterName)
	if err != nil {
		return photoeditor.Edits{}, err
	}
	edits := photoeditor.Edits{
		Filter:      kind,
		Rotations:   rotate,
		SuggestCrop: suggestCrop,
	}

	if cropArg != "" {
		if suggestCrop {
			return photoeditor.Edits{}, fmt.Errorf("-crop and -suggest-crop are mutually exclusive")
		}
		v, err := parseInts(cropArg, 4)
		if err != nil {
			return photoeditor.Edits{}, fmt.Errorf("invalid -crop: %w", err)
		}
		edits.Crop = &types.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}
	}

	if text != "" {
		o := types.DefaultOverlay()
		o.Content = text
		o.FontSize = cfg.Editor.DefaultFontSize
		if size != 0 {
			o.FontSize = size
		}

		if colorName == "" {
			colorName = cfg.Editor.DefaultTextColor
		}
		if o.Color, err = overlay.ParseColor(colorName); err != nil {
			return photoeditor.Edits{}, err
		}

		p, err := parseInts(posArg, 2)
		if err != nil {
			return photoeditor.Edits{}, fmt.Errorf("invalid -pos: %w", err)
		}
		o.Position = types.Point{X: float64(p[0]), Y: float64(p[1])}
		edits.Overlay = &o
	}

	return edits, nil
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated values, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
