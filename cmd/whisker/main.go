// Command whisker renders and checks Mustache templates from the command line.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/CTAG07/Whisker/pkg/mustache"
	"github.com/natefinch/atomic"
	"gopkg.in/alecthomas/kingpin.v2"
)

var Version = "dev"

type renderCommand struct {
	Template    string
	Data        string
	PartialsDir string
	Ext         string
	Out         string
	Delims      string
	Strict      bool
	NoEscape    bool
	MaxDepth    int
}

type checkCommand struct {
	Files  []string
	Delims string
}

// cli carries the parsed flags and the streams the commands write to.
type cli struct {
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	verbose bool
	render  renderCommand
	check   checkCommand
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

// newApp builds the kingpin application with its render and check commands.
func newApp(c *cli) *kingpin.Application {
	app := kingpin.New("whisker", "Render and check Mustache templates.")
	app.Version(Version)
	app.HelpFlag.Short('h')
	app.UsageWriter(c.stdout)
	app.ErrorWriter(c.stderr)
	app.Flag("verbose", "Log parsing and partial lookups to stderr").Short('v').BoolVar(&c.verbose)

	render := app.Command("render", "Render a template file with a JSON view").Action(c.handleRender)
	render.Arg("template", "Template file to render, or - for stdin").Required().StringVar(&c.render.Template)
	render.Flag("data", "JSON file holding the view").Short('d').OverrideDefaultFromEnvar("WHISKER_DATA").StringVar(&c.render.Data)
	render.Flag("partials", "Directory partials are loaded from").Short('p').OverrideDefaultFromEnvar("WHISKER_PARTIALS").StringVar(&c.render.PartialsDir)
	render.Flag("ext", "File extension of partials").Default(".mustache").StringVar(&c.render.Ext)
	render.Flag("out", "Write the output to this file instead of stdout").Short('o').StringVar(&c.render.Out)
	render.Flag("delims", `Opening delimiters, e.g. "<% %>"`).StringVar(&c.render.Delims)
	render.Flag("strict", "Fail on names that cannot be resolved").BoolVar(&c.render.Strict)
	render.Flag("no-escape", "Do not HTML-escape {{name}} output").BoolVar(&c.render.NoEscape)
	render.Flag("max-depth", "Maximum nesting of partials and lambdas").Default("64").IntVar(&c.render.MaxDepth)

	check := app.Command("check", "Parse template files and report syntax errors").Action(c.handleCheck)
	check.Arg("files", "Template files to check").Required().StringsVar(&c.check.Files)
	check.Flag("delims", `Opening delimiters, e.g. "<% %>"`).StringVar(&c.check.Delims)

	return app
}

func parseDelims(s string) (mustache.Tags, error) {
	if s == "" {
		return mustache.DefaultTags, nil
	}
	return mustache.ParseTags(s)
}

func (c *cli) readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(c.stdin)
	}
	return os.ReadFile(name)
}

func (c *cli) handleRender(_ *kingpin.ParseContext) error {
	logger := c.logger()
	cmd := c.render

	tags, err := parseDelims(cmd.Delims)
	if err != nil {
		return fmt.Errorf("invalid --delims: %w", err)
	}
	src, err := c.readInput(cmd.Template)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	var view any
	if cmd.Data != "" {
		data, err := c.readInput(cmd.Data)
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err = dec.Decode(&view); err != nil {
			return fmt.Errorf("failed to parse data %s: %w", cmd.Data, err)
		}
	}

	opts := []mustache.Option{mustache.WithLogger(logger)}
	if cmd.PartialsDir != "" {
		opts = append(opts, mustache.WithPartialLoader(mustache.NewFileLoader(cmd.PartialsDir, cmd.Ext)))
	}
	r := mustache.New(opts...)

	t, err := r.ParseWithTags(string(src), tags)
	if err != nil {
		return fmt.Errorf("%s:%w", cmd.Template, err)
	}
	logger.Debug("Parsed template", "template", cmd.Template, "nodes", t.Len())

	settings := mustache.DefaultSettings()
	settings.StrictMissing = cmd.Strict
	settings.MaxRecursionDepth = cmd.MaxDepth
	if cmd.NoEscape {
		settings.Escape = mustache.NoEscape
	}

	out, err := r.RenderTemplate(t, view, nil, &settings)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", cmd.Template, err)
	}

	if cmd.Out != "" {
		if err = atomic.WriteFile(cmd.Out, strings.NewReader(out)); err != nil {
			return fmt.Errorf("failed to write %s: %w", cmd.Out, err)
		}
		logger.Debug("Wrote output", "file", cmd.Out, "bytes", len(out))
		return nil
	}
	_, err = io.WriteString(c.stdout, out)
	return err
}

// handleCheck reports every file that does not parse as file:line:col: message.
func (c *cli) handleCheck(_ *kingpin.ParseContext) error {
	logger := c.logger()
	tags, err := parseDelims(c.check.Delims)
	if err != nil {
		return fmt.Errorf("invalid --delims: %w", err)
	}

	failed := 0
	for _, file := range c.check.Files {
		src, err := c.readInput(file)
		if err != nil {
			fmt.Fprintf(c.stderr, "%s: %v\n", file, err)
			failed++
			continue
		}
		if _, err = mustache.Parse(string(src), tags); err != nil {
			var pe *mustache.ParseError
			if errors.As(err, &pe) {
				msg := pe.Err.Error()
				if pe.Name != "" {
					msg = fmt.Sprintf("%q: %s", pe.Name, msg)
				}
				fmt.Fprintf(c.stderr, "%s:%d:%d: %s\n", file, pe.Line, pe.Column, msg)
			} else {
				fmt.Fprintf(c.stderr, "%s: %v\n", file, err)
			}
			failed++
			continue
		}
		logger.Debug("Template ok", "file", file)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d templates failed to parse", failed, len(c.check.Files))
	}
	return nil
}

// run parses args and executes the selected command, returning the exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	app := newApp(c)
	// --help and --version terminate with their own status.
	status := -1
	app.Terminate(func(code int) {
		if status < 0 {
			status = code
		}
	})

	_, err := app.Parse(args)
	if status >= 0 {
		return status
	}
	if err != nil {
		fmt.Fprintf(stderr, "whisker: error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
