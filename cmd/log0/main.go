// Command log0 attaches to a running embedded target through a debug
// probe, reads its log ring, and pretty-prints each logged value using
// type metadata recovered from the target executable's debug
// information.
//
// Usage: log0 [flags] <target-executable>
package main

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fasthosting/log0/internal/cliutil"
	"github.com/fasthosting/log0/internal/diagnostic"
	"github.com/fasthosting/log0/internal/ferr"
	"github.com/fasthosting/log0/internal/frame"
	"github.com/fasthosting/log0/internal/hostreader"
	"github.com/fasthosting/log0/internal/protover"
	"github.com/fasthosting/log0/internal/render"
	"github.com/fasthosting/log0/internal/ring"
	"github.com/fasthosting/log0/internal/symtab"
	"github.com/fasthosting/log0/internal/transport"
	"github.com/fasthosting/log0/internal/transport/local"
	"github.com/fasthosting/log0/internal/transport/quicattach"
	"github.com/fasthosting/log0/internal/transport/rsp"
	"github.com/fasthosting/log0/internal/typecat"
	"github.com/fasthosting/log0/internal/watch"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("log0", flag.ContinueOnError)

	probeKind := fs.String("probe", "rsp", "local | rsp | quic")
	addr := fs.String("addr", "", "probe endpoint (rsp: host:port or serial device path, quic: host:port)")
	baud := fs.Int("baud", 115200, "baud rate when --addr names a serial device for --probe=rsp")
	ringCapacity := fs.Uint("ring-capacity", 1024, "expected target ring capacity C")
	watchFlag := fs.Bool("watch", false, "re-attach automatically when the target executable changes")
	minProtocol := fs.String("min-protocol", "", "minimum semver the target's protocol must satisfy")
	dumpCatalogue := fs.Bool("dump-catalogue", false, "print the parsed type catalogue as JSON and exit")
	showVersion := fs.Bool("version", false, "print version information")
	asJSON := fs.Bool("json", false, "with --version, emit machine-readable JSON")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		cliutil.PrintVersion("log0", protover.Current, *asJSON)
		return 0
	}

	if fs.NArg() != 1 {
		cliutil.Fatalf("expected exactly one positional argument: the target executable")
		return 2
	}

	targetPath := fs.Arg(0)

	info, cat, err := attach(targetPath)
	if err != nil {
		diagnostic.Stderr.ReportError(err)
		return 1
	}

	if *dumpCatalogue {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(cat.Snapshot()); err != nil {
			cliutil.Fatalf("encoding catalogue: %v", err)
			return 1
		}

		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		probe, err := dialProbe(ctx, *probeKind, *addr, uint32(*ringCapacity), *baud, info, cat, *minProtocol)
		if err != nil {
			diagnostic.Stderr.ReportError(err)
			return 1
		}

		exitCode, rebuilt := attachLoop(ctx, probe, info, cat, targetPath, *watchFlag)
		probe.Close()
		reportDropped(probe)

		if !rebuilt {
			return exitCode
		}

		newInfo, newCat, err := attach(targetPath)
		if err != nil {
			diagnostic.Stderr.ReportError(err)
			return 1
		}

		info, cat = newInfo, newCat
	}
}

// attach opens the target executable and builds everything derivable
// from its debug information once: the symbol-table-derived string
// tables plus the DWARF type catalogue.
func attach(targetPath string) (*symtab.Info, *typecat.Catalogue, error) {
	f, err := elf.Open(targetPath)
	if err != nil {
		return nil, nil, ferr.Transportf("ELF_OPEN", "%v", err)
	}
	defer f.Close()

	info, err := symtab.Extract(f)
	if err != nil {
		return nil, nil, ferr.Transportf("SYMTAB_EXTRACT", "%v", err)
	}

	data, err := f.DWARF()
	if err != nil {
		return nil, nil, ferr.Cataloguef("DWARF_OPEN", "%v", err)
	}

	cat, err := typecat.Build(data)
	if err != nil {
		return nil, nil, err
	}

	return info, cat, nil
}

func dialProbe(ctx context.Context, kind, addr string, capacity uint32, baud int, info *symtab.Info, cat *typecat.Catalogue, minProtocol string) (transport.Probe, error) {
	switch kind {
	case "local":
		if err := protover.Negotiate(protover.Current, minProtocol); err != nil {
			return nil, err
		}

		device := ring.NewDevice(int(capacity))
		writer := ring.NewWriter(&device.Cursors, device.Buffer)

		go simulateDemoFrames(ctx, writer, info, cat)

		return local.NewSimulated(device, writer), nil

	case "rsp":
		if addr == "" {
			return nil, ferr.Transportf("BAD_FLAGS", "--probe=rsp requires --addr host:port or a serial device path")
		}

		if err := protover.Negotiate(protover.Current, minProtocol); err != nil {
			return nil, err
		}

		if strings.HasPrefix(addr, "/dev/") || strings.HasPrefix(addr, "COM") {
			return rsp.DialSerial(ctx, addr, baud, info.CursorsAddr, info.BufferAddr, capacity)
		}

		return rsp.Dial(ctx, addr, info.CursorsAddr, info.BufferAddr, capacity)

	case "quic":
		if addr == "" {
			return nil, ferr.Transportf("BAD_FLAGS", "--probe=quic requires --addr host:port")
		}

		return quicattach.Dial(ctx, addr, capacity, quicattach.Options{MinProtocol: minProtocol})

	default:
		return nil, ferr.Transportf("BAD_FLAGS", "unknown --probe %q (want local, rsp, or quic)", kind)
	}
}

// demoFrameInterval is how often --probe=local's simulated target emits a
// frame. Arbitrary, since there is no real firmware cadence to match.
const demoFrameInterval = 250 * time.Millisecond

// simulateDemoFrames stands in for real target firmware under
// --probe=local: it has no program to log, so it drives w with frames
// built straight out of the attached binary's own format and type-name
// tables, cycling through whichever scalar-typed entries the catalogue
// can actually render so the simulated mode exercises the same
// type-driven rendering path a real target's frames would, rather than
// faking output separately. It runs until ctx is cancelled.
func simulateDemoFrames(ctx context.Context, w *ring.Writer, info *symtab.Info, cat *typecat.Catalogue) {
	fmtEntries := info.FmtTable.Entries()
	if len(fmtEntries) == 0 {
		return
	}

	type sample struct {
		fmtAddr, typeAddr uint64
		sizeBytes         int
	}

	var samples []sample

	for _, te := range info.TypeTable.Entries() {
		ref, ok := cat.Lookup(te.Value)
		if !ok {
			continue
		}

		d := cat.Get(ref)
		if d.Kind != typecat.KindScalar || d.ScalarKind == typecat.ScalarZeroSized {
			continue
		}

		samples = append(samples, sample{
			fmtAddr:   fmtEntries[len(samples)%len(fmtEntries)].Addr,
			typeAddr:  te.Addr,
			sizeBytes: d.SizeBytes,
		})
	}

	if len(samples) == 0 {
		return
	}

	ticker := time.NewTicker(demoFrameInterval)
	defer ticker.Stop()

	var counter uint64

	for i := 0; ; i = (i + 1) % len(samples) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s := samples[i]
		payload := encodeCounter(counter, s.sizeBytes)

		w.WriteFrame(uint32(s.fmtAddr), uint32(s.typeAddr), payload)
		counter++
	}
}

// encodeCounter renders v as an n-byte little-endian buffer, for
// synthesizing a scalar payload of an arbitrary declared width (zero-
// extended if n exceeds 8, truncated if it is smaller).
func encodeCounter(v uint64, n int) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)

	buf := make([]byte, n)
	copy(buf, tmp[:])

	return buf
}

// dropCounter is implemented by transport.Probe backends that can report
// how many frames their writer has silently dropped: currently only
// local.Probe in its simulated-target configuration, since it is the
// only transport where the host process holds the writer side of the
// ring at all.
type dropCounter interface {
	DroppedCount() uint64
}

// reportDropped prints the admission-drop count on exit. Silent in the
// common case where nothing was dropped, and a no-op for any probe that
// cannot report one.
func reportDropped(probe transport.Probe) {
	dc, ok := probe.(dropCounter)
	if !ok {
		return
	}

	if n := dc.DroppedCount(); n > 0 {
		fmt.Fprintf(os.Stderr, "log0: dropped %d frame(s) under ring pressure\n", n)
	}
}

// attachLoop drives one reader over probe until ctx is cancelled, a
// rebuild is detected (if watching), or a fatal error occurs. It returns
// the process exit code and whether the caller should reattach to a
// rebuilt binary.
func attachLoop(ctx context.Context, probe transport.Probe, info *symtab.Info, cat *typecat.Catalogue, targetPath string, watchEnabled bool) (exitCode int, rebuilt bool) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	printer := &printer{info: info, cat: cat, abort: cancelRun}

	reader := hostreader.New(probe, printer.onFrame)

	var w *watch.Watcher

	if watchEnabled {
		var err error

		w, err = watch.New(targetPath)
		if err != nil {
			diagnostic.Stderr.ReportError(ferr.Transportf("WATCH_INIT", "%v", err))
		} else {
			defer w.Close()

			go func() {
				select {
				case <-w.Rebuilt():
					cancelRun()
				case <-runCtx.Done():
				}
			}()
		}
	}

	err := reader.Run(runCtx)

	if err != nil {
		if fatal := diagnostic.Stderr.ReportError(err); fatal {
			return 1, false
		}
	}

	if printer.fatal {
		return 1, false
	}

	if ctx.Err() != nil {
		return 0, false
	}

	// runCtx was cancelled by the watcher, not by the outer ctx: reattach.
	if w != nil {
		return 0, true
	}

	return 0, false
}

// printer resolves each frame's fmt_key/type_key against the
// symbol-table string tables and the type catalogue, and prints the
// format literal followed by the rendered value. A fatal render error
// (schema drift between the binary and its frames) stops the reader
// through abort.
type printer struct {
	info  *symtab.Info
	cat   *typecat.Catalogue
	abort context.CancelFunc
	fatal bool
}

func (p *printer) onFrame(f frame.Frame) {
	literal, ok := p.info.FmtTable.Lookup(uint64(f.FmtKey))
	if !ok {
		literal = fmt.Sprintf("<unknown format at 0x%x>", f.FmtKey)
	}

	typeName, ok := p.info.TypeTable.Lookup(uint64(f.TypeKey))
	if !ok {
		fmt.Printf("%s %s\n", literal, diagnostic.Placeholder(f.TypeKey))
		return
	}

	ref, ok := p.cat.Lookup(typeName)
	if !ok {
		fmt.Printf("%s %s\n", literal, diagnostic.Placeholder(f.TypeKey))
		return
	}

	var sb strings.Builder

	if err := render.Value(&sb, ref, p.cat, f.Payload); err != nil {
		if diagnostic.Stderr.ReportError(err) {
			p.fatal = true
			p.abort()
		}

		return
	}

	fmt.Printf("%s %s\n", literal, sb.String())
}
