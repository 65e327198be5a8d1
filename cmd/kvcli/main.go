package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mnohosten/kvstore-lsm/internal/store"
)

const (
	version = "0.1.0"
	banner  = `
╔══════════════════════════════════════╗
║           kvcli v%s               ║
║   embedded LSM key-value store      ║
╚══════════════════════════════════════╝

Type 'help' for available commands
Type 'exit' or 'quit' to exit

`
)

type cli struct {
	s       *store.Store
	scanner *bufio.Scanner
}

func newCLI(dataDir string) (*cli, error) {
	s, err := store.Open(store.DefaultOptions(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &cli{s: s, scanner: bufio.NewScanner(os.Stdin)}, nil
}

func (c *cli) run() error {
	fmt.Printf(banner, version)

	for {
		fmt.Print("kv> ")
		if !c.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		if err := c.execute(line); err != nil {
			if err.Error() == "exit" {
				fmt.Println("Goodbye!")
				return nil
			}
			fmt.Printf("Error: %v\n", err)
		}
	}
	return c.scanner.Err()
}

func (c *cli) execute(line string) error {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help", "?":
		c.showHelp()
		return nil
	case "exit", "quit":
		return fmt.Errorf("exit")
	case "put":
		return c.cmdPut(parts)
	case "get":
		return c.cmdGet(parts)
	case "del", "delete":
		return c.cmdDel(parts)
	case "scan":
		return c.cmdScan(parts)
	case "reset":
		return c.cmdReset()
	case "stats":
		return c.cmdStats()
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func (c *cli) showHelp() {
	fmt.Print(`
Commands:
  put <key> <value>   Insert or overwrite key with value
  get <key>           Fetch the value for key
  del <key>           Delete key
  scan <k1> <k2>      List every live key in [k1,k2]
  reset               Remove all data, leaving the store usable
  stats                Print level table counts and memtable usage
  help, ?              Show this help message
  exit, quit           Exit the CLI

`)
}

func parseKey(s string) (uint64, error) {
	k, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return k, nil
}

func (c *cli) cmdPut(parts []string) error {
	if len(parts) < 3 {
		return fmt.Errorf("usage: put <key> <value>")
	}
	key, err := parseKey(parts[1])
	if err != nil {
		return err
	}
	value := strings.Join(parts[2:], " ")
	if err := c.s.Put(key, []byte(value)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func (c *cli) cmdGet(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: get <key>")
	}
	key, err := parseKey(parts[1])
	if err != nil {
		return err
	}
	v, found, err := c.s.Get(key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("(absent)")
		return nil
	}
	fmt.Println(string(v))
	return nil
}

func (c *cli) cmdDel(parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf("usage: del <key>")
	}
	key, err := parseKey(parts[1])
	if err != nil {
		return err
	}
	deleted, err := c.s.Del(key)
	if err != nil {
		return err
	}
	fmt.Println(deleted)
	return nil
}

func (c *cli) cmdScan(parts []string) error {
	if len(parts) != 3 {
		return fmt.Errorf("usage: scan <k1> <k2>")
	}
	k1, err := parseKey(parts[1])
	if err != nil {
		return err
	}
	k2, err := parseKey(parts[2])
	if err != nil {
		return err
	}
	entries, err := c.s.Scan(k1, k2)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%d\t%s\n", e.Key, e.Value)
	}
	fmt.Printf("(%d entries)\n", len(entries))
	return nil
}

func (c *cli) cmdReset() error {
	if err := c.s.Reset(); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func (c *cli) cmdStats() error {
	stats := c.s.Stats()
	fmt.Printf("memtable: %d entries, %d bytes\n", stats.MemtableEntries, stats.MemtableBytes)
	for level := 0; level < len(stats.LevelTables); level++ {
		if n, ok := stats.LevelTables[level]; ok {
			fmt.Printf("level %d: %d tables\n", level, n)
		}
	}
	return nil
}

func main() {
	dataDir := "./kvdata"
	if len(os.Args) > 1 {
		dataDir = os.Args[1]
	}

	c, err := newCLI(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvcli: %v\n", err)
		os.Exit(1)
	}
	defer c.s.Close()

	if err := c.run(); err != nil {
		fmt.Fprintf(os.Stderr, "kvcli: %v\n", err)
		os.Exit(1)
	}
}
