// poppy manipulates filter files on disk. Files whose name ends in .zst are
// written zstd-compressed; compression is detected on read.
//
//	poppy create seen.bf 100000 0.001 2 scalable
//	poppy add seen.bf alice
//	poppy check seen.bf alice
//	poppy info seen.bf
//	poppy dump seen.bf 32
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mirkobrombin/go-cli-builder/v2/pkg/cli"

	"poppy.lopezb.com/internal/bloom"
)

var stdout io.Writer = os.Stdout

// CLI Root
type CLI struct {
	Create CmdCreate `cmd:"create" help:"Create an empty filter file"`
	Add    CmdAdd    `cmd:"add" help:"Insert an item"`
	Check  CmdCheck  `cmd:"check" help:"Test an item for membership"`
	Info   CmdInfo   `cmd:"info" help:"Show filter parameters and fill"`
	Dump   CmdDump   `cmd:"dump" help:"Hex dump the raw bit array"`
}

type CmdCreate struct {
	Path     string `arg:"" required:"true" help:"Filter file"`
	Capacity string `arg:"" required:"true" help:"Expected number of items"`
	FPP      string `arg:"" required:"true" help:"Target false positive probability"`
	Version  string `arg:"" optional:"true" help:"Hashing version, 1 or 2 (default 2)"`
	Variant  string `arg:"" optional:"true" help:"classic or scalable (default classic)"`
}

func (c *CmdCreate) Run() error {
	capacity, err := strconv.ParseUint(c.Capacity, 10, 64)
	if err != nil {
		return fmt.Errorf("bad capacity %q", c.Capacity)
	}
	fpp, err := strconv.ParseFloat(c.FPP, 64)
	if err != nil {
		return fmt.Errorf("bad error rate %q", c.FPP)
	}
	version, err := parseVersion(c.Version)
	if err != nil {
		return err
	}
	variant, err := parseVariant(c.Variant)
	if err != nil {
		return err
	}

	f, err := bloom.New(capacity, fpp, bloom.WithVersion(version), bloom.WithVariant(variant))
	if err != nil {
		return err
	}
	if err := f.SaveFile(c.Path); err != nil {
		return err
	}
	m, k := f.Params().Sizing()
	fmt.Fprintf(stdout, "Created %s: %s %s, m=%d k=%d\n", c.Path, version, variant, m, k)
	return nil
}

type CmdAdd struct {
	Path string `arg:"" required:"true" help:"Filter file"`
	Item string `arg:"" required:"true" help:"Item to insert"`
}

func (c *CmdAdd) Run() error {
	f, err := bloom.LoadFile(c.Path)
	if err != nil {
		return err
	}
	if !f.InsertString(c.Item) {
		fmt.Fprintln(stdout, "0")
		return nil
	}
	if err := f.SaveFile(c.Path); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "1")
	return nil
}

type CmdCheck struct {
	Path string `arg:"" required:"true" help:"Filter file"`
	Item string `arg:"" required:"true" help:"Item to test"`
}

func (c *CmdCheck) Run() error {
	f, err := bloom.LoadFile(c.Path)
	if err != nil {
		return err
	}
	if f.ContainsString(c.Item) {
		fmt.Fprintln(stdout, "1")
	} else {
		fmt.Fprintln(stdout, "0")
	}
	return nil
}

type CmdInfo struct {
	Path string `arg:"" required:"true" help:"Filter file"`
}

func (c *CmdInfo) Run() error {
	f, err := bloom.LoadFile(c.Path)
	if err != nil {
		return err
	}
	info := f.Info()
	fmt.Fprintf(stdout, "Version:     %s\n", info.Version)
	fmt.Fprintf(stdout, "Variant:     %s\n", info.Variant)
	fmt.Fprintf(stdout, "Capacity:    %d\n", info.Capacity)
	fmt.Fprintf(stdout, "Error rate:  %g\n", info.FPP)
	fmt.Fprintf(stdout, "Size:        %d bits\n", info.SizeBits)
	fmt.Fprintf(stdout, "Estimated:   %d items\n", info.Estimate)
	fmt.Fprintf(stdout, "Sub-filters: %d\n", len(info.Layers))
	for i, l := range info.Layers {
		fmt.Fprintf(stdout, "  %d: k=%d m=%d capacity=%d fpp=%g fill=%.4f\n",
			i, l.K, l.M, l.Capacity, l.FPP, l.Fill)
	}
	return nil
}

type CmdDump struct {
	Path  string `arg:"" required:"true" help:"Filter file"`
	Limit int    `arg:"" optional:"true" help:"Max bytes to dump (default 64)"`
}

func (c *CmdDump) Run() error {
	f, err := bloom.LoadFile(c.Path)
	if err != nil {
		return err
	}
	data := f.Data()
	limit := c.Limit
	if limit <= 0 {
		limit = 64
	}
	if limit < len(data) {
		data = data[:limit]
	}
	fmt.Fprint(stdout, hex.Dump(data))
	return nil
}

func parseVersion(s string) (bloom.Version, error) {
	if s == "" {
		return bloom.DefaultVersion, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "v"), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", bloom.ErrUnsupportedVersion, s)
	}
	return bloom.Version(n), nil
}

func parseVariant(s string) (bloom.Variant, error) {
	switch strings.ToLower(s) {
	case "", "classic":
		return bloom.Classic, nil
	case "scalable":
		return bloom.Scalable, nil
	}
	return 0, fmt.Errorf("%w: %q", bloom.ErrInvalidVariant, s)
}

func main() {
	app := &CLI{}
	if err := cli.Run(app); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "no such filter file")
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}
