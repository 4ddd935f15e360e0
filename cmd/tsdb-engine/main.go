// Command tsdb-engine is a thin operational CLI over storage.Engine,
// following friggdb's cmd/tempo-cli pattern of one kong.Kong root with a
// subcommand per operation rather than a flag-soup single binary.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"

	"github.com/grafana/tsdb-engine/labelset"
	"github.com/grafana/tsdb-engine/storage"
)

type context struct {
	dataDir string
}

type initCmd struct{}

func (c *initCmd) Run(ctx *context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	fmt.Println("initialized", ctx.dataDir)
	return nil
}

type writeCmd struct {
	Labels string `arg:"" help:"comma-separated name=value pairs, e.g. __name__=cpu,host=a"`
	TS     int64  `arg:"" help:"unix millis timestamp"`
	Value  float64 `arg:"" help:"sample value"`
}

func (c *writeCmd) Run(ctx *context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	labels, err := parseLabels(c.Labels)
	if err != nil {
		return err
	}
	return e.Write(labelset.TimeSeries{
		Labels:  labels,
		Samples: []labelset.Sample{{Timestamp: c.TS, Value: c.Value}},
	})
}

type queryCmd struct {
	Matchers string `arg:"" help:"comma-separated name=value exact matchers"`
	From     int64  `arg:"" help:"range start, unix millis"`
	To       int64  `arg:"" help:"range end, unix millis"`
}

func (c *queryCmd) Run(ctx *context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	labels, err := parseLabels(c.Matchers)
	if err != nil {
		return err
	}
	matchers := make([]labelset.LabelMatcher, 0, len(labels))
	for _, l := range labels {
		matchers = append(matchers, labelset.LabelMatcher{Type: labelset.Equal, Name: l.Name, Value: l.Value})
	}

	series, err := e.Query(matchers, c.From, c.To)
	if err != nil {
		return err
	}
	for _, ts := range series {
		fmt.Println(ts.Labels.Canonical())
		for _, s := range ts.Samples {
			fmt.Printf("  %d %v\n", s.Timestamp, s.Value)
		}
	}
	return nil
}

type statsCmd struct{}

func (c *statsCmd) Run(ctx *context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	fmt.Println(e.Stats().String())
	return nil
}

type compactCmd struct{}

func (c *compactCmd) Run(ctx *context) error {
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return e.Compact()
}

var cli struct {
	DataDir string `help:"data directory" default:"./data"`

	Init    initCmd    `cmd:"" help:"initialize (or open) a data directory"`
	Write   writeCmd   `cmd:"" help:"write one sample"`
	Query   queryCmd   `cmd:"" help:"query series in a time range"`
	Stats   statsCmd   `cmd:"" help:"print engine stats"`
	Compact compactCmd `cmd:"" help:"run one compaction pass"`
}

func openEngine(ctx *context) (*storage.Engine, error) {
	cfg := storage.DefaultConfig(ctx.dataDir)
	return storage.New(cfg, log.NewLogfmtLogger(os.Stderr), nil)
}

func parseLabels(s string) (labelset.Labels, error) {
	var out labelset.Labels
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid label pair %q, want name=value", pair)
		}
		out = append(out, labelset.Label{Name: kv[0], Value: kv[1]})
	}
	return out, nil
}

func main() {
	k := kong.Parse(&cli, kong.Name("tsdb-engine"), kong.Description("Local operational CLI for the TSDB storage engine."))
	err := k.Run(&context{dataDir: cli.DataDir})
	k.FatalIfErrorf(err)
}
