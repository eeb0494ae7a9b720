package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/tern-search/tern/index"
	"github.com/tern-search/tern/util/vfs"
)

var version = ""

func loadOptions(ctx *cli.Context) (index.Options, error) {
	if path := ctx.GlobalString("config"); path != "" {
		return index.LoadOptions(path)
	}
	return index.DefaultOptions(), nil
}

func openIndex(ctx *cli.Context) (*index.Index, error) {
	opts, err := loadOptions(ctx)
	if err != nil {
		return nil, err
	}
	opts.IgnoreVersion = ctx.GlobalBool("ignore-version")
	dir, err := vfs.OpenDir(ctx.GlobalString("dir"), false)
	if err != nil {
		return nil, err
	}
	return index.Open(dir, opts)
}

func runNew(ctx *cli.Context) error {
	opts, err := loadOptions(ctx)
	if err != nil {
		return err
	}
	if ctx.IsSet("no-positions") {
		opts.Positions = false
	}
	dir, err := vfs.OpenDir(ctx.GlobalString("dir"), true)
	if err != nil {
		return err
	}
	idx, err := index.Create(dir, opts)
	if err != nil {
		return err
	}
	return idx.Close()
}

// runAdd indexes each named file, or stdin when no files are given, and
// commits.
func runAdd(ctx *cli.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	if ctx.NArg() == 0 {
		if _, err := idx.AddDocument("stdin", os.Stdin); err != nil {
			return err
		}
	}
	for _, path := range ctx.Args() {
		file, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "opening %v", path)
		}
		_, err = idx.AddDocument(path, file)
		file.Close()
		if err != nil {
			return err
		}
	}
	return idx.Commit()
}

func runMerge(ctx *cli.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.Commit()
}

func runImpacts(ctx *cli.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.BuildImpacts()
}

func runStrip(ctx *cli.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.StripPositions()
}

func runSearch(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("no query given")
	}
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	query := strings.Join(ctx.Args(), " ")
	res, err := idx.Search(query, ctx.Int("start"), ctx.Int("count"))
	if err != nil {
		return err
	}
	for i, hit := range res.Hits {
		fmt.Printf("%d. %s (docno %d, score %.4f)\n", ctx.Int("start")+i+1, hit.Label, hit.Docno, hit.Score)
	}
	suffix := ""
	if res.TotalEstimated {
		suffix = " (estimated)"
	}
	fmt.Printf("%.0f results%s\n", res.Total, suffix)
	return nil
}

func runStats(ctx *cli.Context) error {
	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()

	st := idx.Stats()
	fmt.Printf("documents:      %d\n", st.Docs)
	fmt.Printf("distinct terms: %d\n", st.DistinctTerms)
	fmt.Printf("occurrences:    %d\n", st.Occurrences)
	fmt.Printf("total words:    %d\n", st.TotalWords)
	fmt.Printf("avg weight:     %.4f\n", st.AvgWeight)
	fmt.Printf("avg length:     %.2f\n", st.AvgLength)
	fmt.Printf("positions:      %v\n", st.Positions)
	fmt.Printf("impacts:        %v\n", st.Impacts)
	if st.Uncommitted > 0 {
		fmt.Printf("uncommitted:    %d\n", st.Uncommitted)
	}
	return nil
}

func main() {
	app := cli.NewApp()

	app.Name = "tern"
	app.HelpName = "tern"
	app.Usage = "tern - disk-backed full-text search"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "dir, d", Value: "tern_data", Usage: "index directory"},
		cli.StringFlag{Name: "config, c", Usage: "YAML config file"},
		cli.BoolFlag{Name: "ignore-version", Usage: "open indexes written by other format versions"},
	}

	app.Commands = []cli.Command{
		{
			Name:   "new",
			Usage:  "create an empty index",
			Action: runNew,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "no-positions", Usage: "do not store word positions"},
			},
		},
		{
			Name:      "add",
			Usage:     "index documents and commit",
			ArgsUsage: "[files...]",
			Action:    runAdd,
		},
		{
			Name:   "merge",
			Usage:  "commit any pending postings runs",
			Action: runMerge,
		},
		{
			Name:   "impacts",
			Usage:  "build impact-ordered lists",
			Action: runImpacts,
		},
		{
			Name:   "strip",
			Usage:  "drop word positions from the index",
			Action: runStrip,
		},
		{
			Name:      "search",
			Usage:     "run a query",
			ArgsUsage: "query...",
			Action:    runSearch,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "start", Usage: "rank to start at"},
				cli.IntFlag{Name: "count", Value: 10, Usage: "results to return"},
			},
		},
		{
			Name:   "stats",
			Usage:  "print index statistics",
			Action: runStats,
		},
	}

	app.Before = func(ctx *cli.Context) error {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
		return nil
	}

	app.RunAndExitOnError()
}
