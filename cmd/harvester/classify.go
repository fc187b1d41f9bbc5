package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scholar-harvester/internal/classify"
)

const maxRecordBytes = 4 << 20

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classify JSON-lines publication records from stdin to stdout",
		Long: `classify reads one JSON object per line, resolves its journal, conference,
book and source fields into a single venue category and writes the canonical
record, including an isPatent flag, as one JSON object per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClassify(cmd)
		},
	}
}

func runClassify(cmd *cobra.Command) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64<<10), maxRecordBytes)
	out := bufio.NewWriter(cmd.OutOrStdout())
	enc := json.NewEncoder(out)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		raw, err := decodeRecord([]byte(text))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := enc.Encode(classify.Classify(raw)); err != nil {
			return fmt.Errorf("line %d: write record: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// decodeRecord accepts any flat JSON object. Scalars are kept in their textual form and
// nulls are dropped.
func decodeRecord(data []byte) (classify.RawRecord, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	raw := make(classify.RawRecord, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
		case string:
			raw[k] = val
		case json.Number:
			raw[k] = val.String()
		case bool:
			raw[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("field %q: nested values are not supported", k)
		}
	}
	return raw, nil
}
