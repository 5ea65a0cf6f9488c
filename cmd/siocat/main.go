// siocat copies bytes from a file (or standard input) to a file (or
// standard output) through the streamio pipe engine, optionally running
// the payload through a snappy transform. It exists both as a utility and
// as a smoke test for the event loop, the stream cores and backpressure.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"

	"github.com/rizqme/streamio/eventloop"
	"github.com/rizqme/streamio/fdio"
	"github.com/rizqme/streamio/pkg/config"
	"github.com/rizqme/streamio/stream"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "siocat"
	app.Usage = "copy data through the streamio pipe engine"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "in, i",
			Value: "-",
			Usage: `source path, or "-" for stdin`,
		},
		cli.StringFlag{
			Name:  "out, o",
			Value: "-",
			Usage: `destination path, or "-" for stdout`,
		},
		cli.IntFlag{
			Name:  "chunk",
			Usage: "read quantum in bytes (overrides config)",
		},
		cli.IntFlag{
			Name:  "limit",
			Usage: "destination soft limit in bytes (overrides config)",
		},
		cli.BoolFlag{
			Name:  "compress, c",
			Usage: "snappy-compress chunks in flight",
		},
		cli.BoolFlag{
			Name:  "decompress, d",
			Usage: "snappy-decompress chunks in flight",
		},
		cli.StringFlag{
			Name:   "config",
			Usage:  "path to streamio.json (default: discover upward)",
			EnvVar: "STREAMIO_CONFIG",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("siocat failed")
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	chunk := cfg.ChunkSize
	if c.Int("chunk") > 0 {
		chunk = c.Int("chunk")
	}
	limit := cfg.SoftLimit
	if c.Int("limit") > 0 {
		limit = c.Int("limit")
	}

	loop, err := eventloop.New()
	if err != nil {
		return err
	}
	go loop.Run()
	defer loop.Stop()

	src, err := openSource(c.String("in"))
	if err != nil {
		return err
	}
	dst, err := openDest(c.String("out"))
	if err != nil {
		src.Close()
		return err
	}

	reader, err := stream.NewReadable(loop, src, &stream.ReadableOptions{ChunkSize: chunk})
	if err != nil {
		return err
	}
	writer, err := stream.NewWritable(loop, dst, &stream.WritableOptions{SoftLimit: limit})
	if err != nil {
		reader.Close()
		return err
	}

	total, err := transfer(c, reader, writer)
	if err != nil {
		return err
	}
	log.Info().Int64("bytes", total).Msg("transfer complete")
	return nil
}

// transfer pipes reader into writer, threading the optional snappy
// transform in the middle.
func transfer(c *cli.Context, reader *stream.Readable, writer *stream.Writable) (int64, error) {
	var middle *stream.Transform
	switch {
	case c.Bool("compress"):
		middle = stream.NewSnappyCompress()
	case c.Bool("decompress"):
		middle = stream.NewSnappyDecompress()
	}

	if middle == nil {
		return reader.Pipe(writer, nil).Await(nil)
	}

	futs, err := stream.Pipeline(reader, middle, writer)
	if err != nil {
		return 0, err
	}
	// The final stage carries the byte count delivered downstream.
	return futs[len(futs)-1].Await(nil)
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return config.Discover(wd)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl)
}

func openSource(path string) (stream.Descriptor, error) {
	if path == "-" {
		return fdio.Stdin()
	}
	return fdio.Open(path, os.O_RDONLY, 0)
}

func openDest(path string) (stream.Descriptor, error) {
	if path == "-" {
		return fdio.Stdout()
	}
	return fdio.Open(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}
