package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/speters/vs2d/codec"
	"github.com/speters/vs2d/vs2"
)

const usage = `syntax: one command per line, addresses in hex
- ident                       read the system device identification
- read ADDR [LEN [DIV [u]]]   read LEN bytes, show value scaled by 1/DIV, u for unsigned
- write ADDR XX...            write hex bytes
- set ADDR VALUE [SIZE [DIV]] write VALUE*DIV as little endian integer of SIZE bytes
- time ADDR                   read 8 byte BCD date and time
- errors ADDR N               read N entries of the error history
- rpc ADDR PROC [XX...]       remote procedure call
- handshake                   restart the VS2 protocol
- state                       show protocol state and counters
- log=LEVEL                   set log level (debug, info, warn, error)
- help
`

type cli struct {
	dev    *vs2.Device
	out    io.Writer
	logger *log.Logger
}

var suggests = []prompt.Suggest{
	{Text: "ident", Description: "read the system device identification"},
	{Text: "read", Description: "read ADDR [LEN [DIV [u]]]"},
	{Text: "write", Description: "write ADDR XX..."},
	{Text: "set", Description: "set ADDR VALUE [SIZE [DIV]]"},
	{Text: "time", Description: "time ADDR"},
	{Text: "errors", Description: "errors ADDR N"},
	{Text: "rpc", Description: "rpc ADDR PROC [XX...]"},
	{Text: "handshake", Description: "restart the VS2 protocol"},
	{Text: "state", Description: "show protocol state and counters"},
	{Text: "log=debug", Description: "enable debug logging"},
	{Text: "log=info", Description: "disable debug logging"},
	{Text: "help", Description: "show commands"},
}

func (c *cli) completer() func(d prompt.Document) []prompt.Suggest {
	return func(d prompt.Document) []prompt.Suggest {
		if strings.Contains(d.TextBeforeCursor(), " ") {
			return nil
		}
		return prompt.FilterFuzzy(suggests, d.GetWordBeforeCursor(), true)
	}
}

func (c *cli) executor(ctx context.Context) func(string) {
	return func(line string) {
		if err := c.exec(ctx, line); err != nil {
			c.logger.Error(errors.ErrorStack(err))
		}
	}
}

func argCount(words []string, min, max int) error {
	n := len(words) - 1
	if n < min || (max >= 0 && n > max) {
		return errors.NotValidf("%s with %d arguments", words[0], n)
	}
	return nil
}

func parseInt(word string, bitSize int) (int64, error) {
	i, err := strconv.ParseInt(word, 0, bitSize)
	return i, errors.Annotatef(err, "word=%s", word)
}

func parseFloat(word string) (float64, error) {
	f, err := strconv.ParseFloat(word, 64)
	return f, errors.Annotatef(err, "word=%s", word)
}

func (c *cli) exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}

	cmd := words[0]
	switch {
	case cmd == "help":
		fmt.Fprint(c.out, usage)
		return nil
	case strings.HasPrefix(cmd, "log="):
		level, err := log.ParseLevel(cmd[4:])
		if err != nil {
			return errors.Annotatef(err, "word=%s", cmd)
		}
		c.logger.SetLevel(level)
		return nil
	case cmd == "handshake":
		return errors.Trace(c.dev.Handshake(ctx))
	case cmd == "state":
		s := c.dev.Stats()
		fmt.Fprintf(c.out, "state=%v exchanges=%d timeouts=%d nacks=%d framing=%d checksum=%d remote=%d transport=%d handshakes=%d/%d failed\n",
			c.dev.State(), s.Exchanges, s.Timeouts, s.Nacks, s.FramingErrors, s.ChecksumErrors,
			s.RemoteErrors, s.TransportErrors, s.Handshakes, s.HandshakeFails)
		return nil
	case cmd == "ident":
		id, err := c.dev.SysDeviceIdent(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintf(c.out, "id=0x%04X raw=[%s]\n", id.ID(), id)
		return nil
	}

	switch cmd {
	case "read", "write", "set", "time", "errors", "rpc":
	default:
		return errors.NotSupportedf("command %q", cmd)
	}
	if err := argCount(words, 1, -1); err != nil {
		return err
	}
	addr, err := vs2.ParseAddress(words[1])
	if err != nil {
		return errors.Annotatef(err, "word=%s", words[1])
	}

	switch cmd {
	case "read":
		return c.read(ctx, addr, words)
	case "write":
		if err := argCount(words, 2, -1); err != nil {
			return err
		}
		data, err := vs2.ParseHexBytes(strings.Join(words[2:], ""))
		if err != nil {
			return errors.Trace(err)
		}
		if err := c.dev.WriteBlock(ctx, addr, data); err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintf(c.out, "OK %v [%s]\n", addr, vs2.FormatBytes(data))
		return nil
	case "set":
		return c.set(ctx, addr, words)
	case "time":
		if err := argCount(words, 1, 1); err != nil {
			return err
		}
		b, err := c.dev.ReadBlock(ctx, addr, 8)
		if err != nil {
			return errors.Trace(err)
		}
		t, err := codec.DecodeDateTimeBCD(b, time.Local)
		if err != nil {
			return errors.Annotatef(err, "data=[%s]", vs2.FormatBytes(b))
		}
		fmt.Fprintf(c.out, "%v %s\n", addr, t.Format("2006-01-02 15:04:05 Mon"))
		return nil
	case "errors":
		if err := argCount(words, 2, 2); err != nil {
			return err
		}
		n, err := parseInt(words[2], 8)
		if err != nil {
			return err
		}
		if n < 1 {
			return errors.NotValidf("errors count %d", n)
		}
		b, err := c.dev.ReadBlock(ctx, addr, int(n)*9)
		if err != nil {
			return errors.Trace(err)
		}
		entries, err := codec.DecodeErrorHistory(b, time.Local)
		if err != nil {
			return errors.Trace(err)
		}
		for _, e := range entries {
			fmt.Fprintf(c.out, "0x%02X %s\n", e.Code, e.Time.Format("2006-01-02 15:04:05"))
		}
		return nil
	case "rpc":
		if err := argCount(words, 2, -1); err != nil {
			return err
		}
		proc, err := strconv.ParseUint(words[2], 0, 8)
		if err != nil {
			return errors.Annotatef(err, "word=%s", words[2])
		}
		var args []byte
		if len(words) > 3 {
			if args, err = vs2.ParseHexBytes(strings.Join(words[3:], "")); err != nil {
				return errors.Trace(err)
			}
		}
		b, err := c.dev.RemoteCall(ctx, addr, byte(proc), args)
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Fprintf(c.out, "%v [%s]\n", addr, vs2.FormatBytes(b))
		return nil
	}
	return errors.NotSupportedf("command %q", cmd)
}

func (c *cli) read(ctx context.Context, addr vs2.Address, words []string) error {
	if err := argCount(words, 1, 4); err != nil {
		return err
	}
	length, div, signed := int64(1), 1.0, true
	var err error
	if len(words) > 2 {
		if length, err = parseInt(words[2], 32); err != nil {
			return err
		}
	}
	if len(words) > 3 {
		if div, err = parseFloat(words[3]); err != nil {
			return err
		}
	}
	if len(words) > 4 {
		if words[4] != "u" {
			return errors.NotValidf("word=%s", words[4])
		}
		signed = false
	}

	b, err := c.dev.ReadBlock(ctx, addr, int(length))
	if err != nil {
		return errors.Trace(err)
	}
	if len(b) > 8 {
		fmt.Fprintf(c.out, "%v [%s]\n", addr, vs2.FormatBytes(b))
		return nil
	}
	v, err := codec.BytesValue(b, div, signed)
	if err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(c.out, "%v [%s] = %v\n", addr, vs2.FormatBytes(b), v)
	return nil
}

func (c *cli) set(ctx context.Context, addr vs2.Address, words []string) error {
	if err := argCount(words, 2, 4); err != nil {
		return err
	}
	value, err := parseFloat(words[2])
	if err != nil {
		return err
	}
	size, div := int64(1), 1.0
	if len(words) > 3 {
		if size, err = parseInt(words[3], 8); err != nil {
			return err
		}
	}
	if len(words) > 4 {
		if div, err = parseFloat(words[4]); err != nil {
			return err
		}
	}
	data, err := codec.ScaledInt(value, div, int(size))
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.dev.WriteBlock(ctx, addr, data); err != nil {
		return errors.Trace(err)
	}
	fmt.Fprintf(c.out, "OK %v [%s]\n", addr, vs2.FormatBytes(data))
	return nil
}
