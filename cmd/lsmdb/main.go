// Command lsmdb is a minimal command-line front end for the lsmdb storage
// engine: put/get/delete/scan/compact against a database directory.
package main

import (
	"flag"
	"fmt"
	"os"

	lsmdb "github.com/G1DO/Storage-Engine"
)

func main() {
	dir := flag.String("db", "", "database directory (required)")
	flag.Parse()

	if *dir == "" || flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	db, err := lsmdb.Open(*dir, lsmdb.DefaultOptions())
	if err != nil {
		fatalf("opening %s: %v", *dir, err)
	}
	defer db.Close()

	cmd := flag.Arg(0)
	args := flag.Args()[1:]
	switch cmd {
	case "put":
		if len(args) != 2 {
			fatalf("usage: lsmdb -db DIR put KEY VALUE")
		}
		if err := db.Put([]byte(args[0]), []byte(args[1])); err != nil {
			fatalf("put: %v", err)
		}
	case "get":
		if len(args) != 1 {
			fatalf("usage: lsmdb -db DIR get KEY")
		}
		val, err := db.Get([]byte(args[0]))
		if err != nil {
			fatalf("get: %v", err)
		}
		fmt.Println(string(val))
	case "delete":
		if len(args) != 1 {
			fatalf("usage: lsmdb -db DIR delete KEY")
		}
		if err := db.Delete([]byte(args[0])); err != nil {
			fatalf("delete: %v", err)
		}
	case "scan":
		var lo, hi []byte
		if len(args) > 0 {
			lo = []byte(args[0])
		}
		if len(args) > 1 {
			hi = []byte(args[1])
		}
		it, err := db.Scan(lo, hi)
		if err != nil {
			fatalf("scan: %v", err)
		}
		defer it.Close()
		for ok := it.Valid(); ok; ok = it.Next() {
			fmt.Printf("%s\t%s\n", it.Key(), it.Value())
		}
	case "compact":
		var lo, hi []byte
		if len(args) > 0 {
			lo = []byte(args[0])
		}
		if len(args) > 1 {
			hi = []byte(args[1])
		}
		if err := db.CompactRange(lo, hi); err != nil {
			fatalf("compact: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lsmdb -db DIR <command> [args]

commands:
  put KEY VALUE
  get KEY
  delete KEY
  scan [LO [HI]]
  compact [LO [HI]]`)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
