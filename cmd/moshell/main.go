// Moshell VM CLI - loads a compiled bytecode unit and executes it
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/modernsh/moshell/history"
	"github.com/modernsh/moshell/manifest"
	"github.com/modernsh/moshell/pkg/bytecode"
	"github.com/modernsh/moshell/vm"
)

var log = commonlog.GetLogger("moshell")

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	disassemble := flag.Bool("d", false, "Disassemble the unit instead of running it")
	snapshotOut := flag.String("snapshot", "", "Write a CBOR snapshot of the loaded unit and exit")
	stackCapacity := flag.Int("stack", 0, "Call stack capacity in bytes (overrides moshell.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: moshell [options] <unit.msb|unit.msc> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Executes a compiled moshell bytecode unit.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  moshell script.msb              # Run a unit\n")
		fmt.Fprintf(os.Stderr, "  moshell -d script.msb           # Show its bytecode\n")
		fmt.Fprintf(os.Stderr, "  moshell -snapshot s.msc x.msb   # Cache the parsed unit\n")
		fmt.Fprintf(os.Stderr, "  moshell script.msc              # Run from a snapshot\n")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(64)
	}

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	// FORK duplicates the whole process; keeping the interpreter on one
	// locked thread is what makes that safe for the child.
	runtime.GOMAXPROCS(1)
	runtime.LockOSThread()

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading moshell.toml: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}

	unitPath := flag.Arg(0)
	data, err := os.ReadFile(unitPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", unitPath, err)
		os.Exit(1)
	}

	machine := vm.NewVM()
	machine.SetArgs(flag.Args()[1:])
	if *stackCapacity > 0 {
		machine.SetStackCapacity(*stackCapacity)
	} else {
		machine.SetStackCapacity(m.VM.StackCapacity)
	}
	if m.VM.GCDebug {
		machine.SetGCLogger(commonlog.GetLogger("moshell.gc"))
	}

	if strings.HasSuffix(unitPath, ".msc") {
		err = machine.LoadSnapshot(data)
	} else {
		err = machine.LoadUnit(data)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, vm.Report(err))
		os.Exit(1)
	}

	if *snapshotOut != "" {
		writeSnapshot(machine, *snapshotOut)
		return
	}

	if *disassemble {
		printUnit(machine)
		return
	}

	var store *history.Store
	if path := m.HistoryPath(); path != "" {
		store, err = history.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
		} else {
			machine.SetSpawnObserver(store)
		}
	}

	log.Debugf("running %s", unitPath)
	code, runErr := machine.Run()
	if store != nil {
		store.Close()
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, vm.Report(runErr))
		os.Exit(1)
	}
	os.Exit(code)
}

func writeSnapshot(machine *vm.VM, path string) {
	data, err := vm.MarshalSnapshot(machine.Unit())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding snapshot: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote snapshot %s (%d bytes)\n", path, len(data))
}

func printUnit(machine *vm.VM) {
	unit := machine.Unit()
	identifiers := make([]string, 0, len(unit.Functions))
	for identifier := range unit.Functions {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)

	for _, identifier := range identifiers {
		def := unit.Functions[identifier]
		fmt.Printf("%s (locals=%d params=%d return=%d)\n",
			identifier, def.LocalsByteSize, def.ParametersByteCount, def.ReturnByteCount)
		fmt.Print(bytecode.DisassembleWithName(def.Instructions, identifier))
		fmt.Println()
	}
}
