package main

import (
	"bytes"
	"context"
	"testing"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speters/vs2d/vs2"
)

func newTestCli(t *testing.T) (*cli, *bytes.Buffer, *vs2.MockController) {
	t.Helper()
	mt := vs2.NewMockTransport(t)
	ctrl := vs2.NewMockController()
	mt.OnWrite = ctrl.Respond
	dev := vs2.NewDevice(vs2.WithSessionOptions(vs2.WithClock(&vs2.FakeClock{})))
	require.NoError(t, dev.Attach(context.Background(), mt))
	t.Cleanup(func() { dev.Close() })
	out := new(bytes.Buffer)
	return &cli{dev: dev, out: out, logger: log.New()}, out, ctrl
}

func TestExec(t *testing.T) {
	type Case struct {
		name   string
		setup  func(*vs2.MockController)
		line   string
		expect string
		check  func(testing.TB, *cli, *vs2.MockController)
	}
	cases := []Case{
		{name: "empty", line: "   ", expect: ""},
		{name: "help", line: "help", expect: usage},
		{name: "ident",
			setup:  func(c *vs2.MockController) { c.Set(0x00F8, []byte{0x20, 0x92, 0x01, 0x0c, 0x00, 0x00, 0x01, 0x5a}) },
			line:   "ident",
			expect: "id=0x2092 raw=[20 92 01 0C 00 00 01 5A]\n"},
		{name: "read-scaled",
			setup:  func(c *vs2.MockController) { c.Set(0x0800, []byte{0xd2, 0x00}) },
			line:   "read 0800 2 10",
			expect: "0x0800 [D2 00] = 21\n"},
		{name: "read-unsigned",
			setup:  func(c *vs2.MockController) { c.Set(0x0802, []byte{0xff, 0xff}) },
			line:   "read 0x0802 2 1 u",
			expect: "0x0802 [FF FF] = 65535\n"},
		{name: "read-default",
			setup:  func(c *vs2.MockController) { c.Set(0x2323, []byte{0x02}) },
			line:   "read 2323",
			expect: "0x2323 [02] = 2\n"},
		{name: "read-long",
			line:   "read 0x3000 10",
			expect: "0x3000 [00 00 00 00 00 00 00 00 00 00]\n"},
		{name: "write",
			line:   "write 2000 01 02",
			expect: "OK 0x2000 [01 02]\n",
			check: func(t testing.TB, _ *cli, c *vs2.MockController) {
				assert.Equal(t, []byte{0x01, 0x02}, c.Get(0x2000, 2))
			}},
		{name: "set",
			line:   "set 6300 21.5 2 10",
			expect: "OK 0x6300 [D7 00]\n",
			check: func(t testing.TB, _ *cli, c *vs2.MockController) {
				assert.Equal(t, []byte{0xd7, 0x00}, c.Get(0x6300, 2))
			}},
		{name: "time",
			setup:  func(c *vs2.MockController) { c.Set(0x088E, []byte{0x20, 0x19, 0x03, 0x12, 0x02, 0x13, 0x45, 0x07}) },
			line:   "time 088E",
			expect: "0x088E 2019-03-12 13:45:07 Tue\n"},
		{name: "errors",
			setup: func(c *vs2.MockController) {
				c.Set(0x7507, []byte{0xb7, 0x20, 0x19, 0x03, 0x12, 0x02, 0x13, 0x45, 0x07})
			},
			line:   "errors 7507 2",
			expect: "0xB7 2019-03-12 13:45:07\n"},
		{name: "rpc",
			setup: func(c *vs2.MockController) {
				c.HandleProc(0x7700, func(procID byte, args []byte) ([]byte, bool) {
					return []byte{procID, byte(len(args))}, true
				})
			},
			line:   "rpc 7700 3 09 09",
			expect: "0x7700 [03 02]\n"},
		{name: "handshake", line: "handshake", expect: ""},
		{name: "log",
			line: "log=debug",
			check: func(t testing.TB, c *cli, _ *vs2.MockController) {
				assert.Equal(t, log.DebugLevel, c.logger.GetLevel())
			}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			cl, out, ctrl := newTestCli(t)
			if c.setup != nil {
				c.setup(ctrl)
			}
			err := cl.exec(context.Background(), c.line)
			require.NoError(t, err, errors.ErrorStack(err))
			assert.Equal(t, c.expect, out.String())
			if c.check != nil {
				c.check(t, cl, ctrl)
			}
		})
	}
}

func TestExec_State(t *testing.T) {
	cl, out, _ := newTestCli(t)
	require.NoError(t, cl.exec(context.Background(), "read 0800"))
	out.Reset()
	require.NoError(t, cl.exec(context.Background(), "state"))
	assert.Contains(t, out.String(), "state=Ready exchanges=1 ")
}

func TestExec_Errors(t *testing.T) {
	cl, out, ctrl := newTestCli(t)
	ctrl.Deny(0x6000)
	ctx := context.Background()

	assert.True(t, errors.IsNotSupported(cl.exec(ctx, "bogus")))
	assert.True(t, errors.IsNotSupported(cl.exec(ctx, "bogus 0800")))
	assert.True(t, errors.IsNotValid(cl.exec(ctx, "read")))
	assert.True(t, errors.IsNotValid(cl.exec(ctx, "read 0800 2 10 x")))
	assert.True(t, errors.IsNotValid(cl.exec(ctx, "read 0800 2 10 u 1")))
	assert.True(t, errors.IsNotValid(cl.exec(ctx, "write 2000")))
	assert.True(t, errors.IsNotValid(cl.exec(ctx, "errors 7507 0")))
	assert.Error(t, cl.exec(ctx, "read zz"))
	assert.Error(t, cl.exec(ctx, "read 0800 two"))
	assert.Error(t, cl.exec(ctx, "write 2000 zz"))
	assert.Error(t, cl.exec(ctx, "set 6300 300 1"))
	assert.Error(t, cl.exec(ctx, "rpc 7700 256"))
	assert.Error(t, cl.exec(ctx, "log=loud"))
	assert.ErrorIs(t, cl.exec(ctx, "read 6000"), vs2.ErrRemote)
	assert.ErrorIs(t, cl.exec(ctx, "rpc 7701 1"), vs2.ErrRemote)
	assert.Empty(t, out.String())
}

func TestCompleter(t *testing.T) {
	cl, _, _ := newTestCli(t)
	complete := cl.completer()

	buf := prompt.NewBuffer()
	buf.InsertText("ide", false, true)
	s := complete(*buf.Document())
	require.Len(t, s, 1)
	assert.Equal(t, "ident", s[0].Text)

	buf = prompt.NewBuffer()
	buf.InsertText("read 08", false, true)
	assert.Empty(t, complete(*buf.Document()))
}
