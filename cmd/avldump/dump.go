package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/logging"
	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
)

// unit 一个解码单元及其在输入中的偏移
type unit struct {
	Kind     string              `json:"kind"`
	Offset   int                 `json:"offset"`
	Length   int                 `json:"length"`
	IMEI     string              `json:"imei,omitempty"`
	Frame    *teltonika.Frame    `json:"frame,omitempty"`
	Datagram *teltonika.Datagram `json:"datagram,omitempty"`
	Ack      string              `json:"ack,omitempty"`
}

type options struct {
	input   string
	kind    string
	format  string
	binary  bool
	verbose bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("avldump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVarP(&opts.input, "input", "i", "", "read from file ('-' for stdin) instead of positional hex arguments")
	fs.StringVarP(&opts.kind, "kind", "k", "tcp", "unit kind: tcp (identifier then frames) | frame | datagram | identifier")
	fs.StringVarP(&opts.format, "format", "f", "json", "output format: json | yaml | toml")
	fs.BoolVarP(&opts.binary, "binary", "b", false, "input file is raw bytes rather than hex text")
	fs.BoolVar(&opts.verbose, "verbose", false, "log decode progress to stderr")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: avldump [flags] [HEX...]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.New(cfgpkg.LoggingConfig{Level: level, Format: "console"}, stderr)
	defer func() { _ = logger.Sync() }()

	data, err := readInput(opts, fs.Args(), stdin)
	if err != nil {
		fmt.Fprintln(stderr, "avldump:", err)
		return 2
	}
	logger.Debug("input loaded", zap.Int("bytes", len(data)), zap.String("kind", opts.kind))

	units, decodeErr := decode(opts.kind, data, logger)
	if err := write(stdout, opts.format, units); err != nil {
		fmt.Fprintln(stderr, "avldump:", err)
		return 2
	}
	if decodeErr != nil {
		fmt.Fprintln(stderr, "avldump:", decodeErr)
		return 1
	}
	return 0
}

func readInput(opts options, args []string, stdin io.Reader) ([]byte, error) {
	var raw []byte
	switch {
	case opts.input == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		raw = b
	case opts.input != "":
		b, err := os.ReadFile(opts.input)
		if err != nil {
			return nil, err
		}
		raw = b
	case len(args) > 0:
		raw = []byte(strings.Join(args, ""))
	default:
		return nil, errors.New("no input: pass hex arguments or --input")
	}
	if opts.binary {
		return raw, nil
	}
	return parseHex(raw)
}

// parseHex 忽略空白并允许 0x 前缀
func parseHex(raw []byte) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(raw))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return out, nil
}

func decode(kind string, data []byte, logger *zap.Logger) ([]unit, error) {
	switch kind {
	case "tcp":
		return decodeTCP(data, logger)
	case "identifier":
		n, imei, err := teltonika.DecodeIdentifier(data)
		if err != nil {
			return nil, err
		}
		return []unit{{Kind: "identifier", Length: n, IMEI: imei, Ack: hex.EncodeToString(teltonika.IdentifierAck(true))}}, nil
	case "frame":
		return decodeSequence(data, "frame", decodeFrameUnit)
	case "datagram":
		return decodeSequence(data, "datagram", func(b []byte) (int, unit, error) {
			n, d, err := teltonika.DecodeDatagram(b)
			if err != nil {
				return n, unit{}, err
			}
			return n, unit{Kind: "datagram", Datagram: d, Ack: hex.EncodeToString(teltonika.DatagramAck(d))}, nil
		})
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// decodeSequence 依次解码直到输入耗尽；出错时返回已解码部分
func decodeSequence(data []byte, kind string, fn func([]byte) (int, unit, error)) ([]unit, error) {
	var out []unit
	off := 0
	for off < len(data) {
		n, u, err := fn(data[off:])
		if err != nil {
			return out, fmt.Errorf("%s at offset %d: %w", kind, off, err)
		}
		u.Offset, u.Length = off, n
		out = append(out, u)
		off += n
	}
	return out, nil
}

// decodeTCP 按 TCP 会话顺序解码：先识别报文，再依次解码帧直到输入耗尽
func decodeTCP(data []byte, logger *zap.Logger) ([]unit, error) {
	n, imei, err := teltonika.DecodeIdentifier(data)
	if err != nil {
		return nil, fmt.Errorf("identifier: %w", err)
	}
	logger.Debug("identifier decoded", zap.String("imei", imei))
	out := []unit{{Kind: "identifier", Length: n, IMEI: imei, Ack: hex.EncodeToString(teltonika.IdentifierAck(true))}}

	frames, err := decodeSequence(data[n:], "frame", decodeFrameUnit)
	for i := range frames {
		frames[i].Offset += n
		logger.Debug("frame decoded", zap.Int("offset", frames[i].Offset), zap.Stringer("codec", frames[i].Frame.Codec))
	}
	return append(out, frames...), err
}

func decodeFrameUnit(b []byte) (int, unit, error) {
	n, f, err := teltonika.DecodeFrame(b)
	if err != nil {
		return n, unit{}, err
	}
	u := unit{Kind: "frame", Frame: f}
	if f.Codec.IsTelemetry() {
		u.Ack = hex.EncodeToString(teltonika.FrameAck(f))
	}
	return n, u, nil
}

func write(w io.Writer, format string, units []unit) error {
	if units == nil {
		units = []unit{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(units)
	case "yaml", "toml":
		generic, err := toGeneric(units)
		if err != nil {
			return err
		}
		if format == "yaml" {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(generic); err != nil {
				return err
			}
			return enc.Close()
		}
		// TOML 顶层必须是表
		return toml.NewEncoder(w).Encode(map[string]any{"units": generic})
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// toGeneric 经 JSON 转为通用结构，去掉 null 并还原整数
func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalize(out), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if e == nil {
				delete(t, k)
				continue
			}
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return u
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
