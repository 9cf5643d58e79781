// Command auditquery filters a JSON-lines audit export (one
// orchestration.AuditEntry per line, as written by pkg/persistence's sinks
// or exported from Redis/Postgres) through a jq expression.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/itchyny/gojq"
)

func main() {
	exprFlag := flag.String("e", ".", "jq expression applied to each audit entry")
	fileFlag := flag.String("f", "", "audit export file to read (defaults to stdin)")
	flag.Parse()

	query, err := gojq.Parse(*exprFlag)
	if err != nil {
		log.Fatalf("parsing jq expression: %v", err)
	}

	in := os.Stdin
	if *fileFlag != "" {
		f, err := os.Open(*fileFlag)
		if err != nil {
			log.Fatalf("opening %s: %v", *fileFlag, err)
		}
		defer f.Close()
		in = f
	}

	if err := run(query, in, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(query *gojq.Query, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry any
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("parsing audit line: %w", err)
		}
		if err := emit(query, entry, enc); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func emit(query *gojq.Query, entry any, enc *json.Encoder) error {
	iter := query.Run(entry)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := v.(error); ok {
			return fmt.Errorf("evaluating jq expression: %w", err)
		}
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}
}
