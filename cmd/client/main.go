package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shardfs/internal/session"
	"shardfs/pkg/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6054", "router address")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not connect to server: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Printf("Connected to %s\n", *addr)
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("shardfs$ ")
		if !in.Scan() {
			fmt.Println()
			return
		}
		fields := strings.Fields(in.Text())
		if len(fields) == 0 {
			continue
		}
		if done := runCommand(c, fields); done {
			return
		}
	}
}

// runCommand executes one line; it returns true when the session should end.
func runCommand(c *client.Client, fields []string) bool {
	verb, ok := session.LookupVerb(fields[0])
	if !ok {
		fmt.Println("Unknown command")
		return false
	}
	args := fields[1:]
	if len(args) != session.Arity(verb) {
		fmt.Println(session.Usage(verb))
		return false
	}

	var err error
	switch verb {
	case session.VerbTerminate:
		return true

	case session.VerbStore:
		var content []byte
		if content, err = os.ReadFile(args[0]); err != nil {
			break
		}
		var msg string
		if msg, err = c.Store(args[1], filepath.Base(args[0]), content); err == nil {
			fmt.Println(msg)
		}

	case session.VerbFetch:
		var content []byte
		if content, err = c.Fetch(args[0]); err == nil {
			name := filepath.Base(args[0])
			if err = os.WriteFile(name, content, 0o644); err == nil {
				fmt.Printf("File downloaded successfully: %s (%d bytes)\n", name, len(content))
			}
		}

	case session.VerbDelete:
		var msg string
		if msg, err = c.Delete(args[0]); err == nil {
			fmt.Println(msg)
		}

	case session.VerbArchive:
		var content []byte
		if content, err = c.Archive(args[0]); err == nil {
			name := client.ArchiveName(args[0])
			if err = os.WriteFile(name, content, 0o644); err == nil {
				fmt.Printf("Archive saved: %s (%d bytes)\n", name, len(content))
			}
		}

	case session.VerbList:
		var names []string
		if names, err = c.List(args[0]); err == nil {
			if len(names) == 0 {
				fmt.Println("(no files)")
			}
			for _, n := range names {
				fmt.Println(n)
			}
		}
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	return false
}
