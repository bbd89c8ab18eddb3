package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"usage-cache/src/cache"
)

// runShell reads one command per line from in and answers on out with
// "OK: <result>" or "ERROR: <reason>". It returns on CLOSE or end of input.
func runShell(ctx context.Context, c *cache.Cache, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToUpper(parts[0])
		args := parts[1:]

		if command == "CLOSE" {
			fmt.Fprintln(out, "OK: closed")
			return nil
		}

		result, err := shellCommand(ctx, c, command, args)
		if err != nil {
			fmt.Fprintf(out, "ERROR: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "OK: %s\n", result)
	}

	return scanner.Err()
}

func shellCommand(ctx context.Context, c *cache.Cache, command string, args []string) (string, error) {
	switch command {
	case "TRACK":
		if len(args) != 2 {
			return "", fmt.Errorf("TRACK requires 2 arguments: kind id")
		}
		kind, err := cache.ParseKind(args[0])
		if err != nil {
			return "", err
		}
		if err := c.TrackUsage(ctx, args[1], kind); err != nil {
			return "", err
		}
		return "tracked", nil

	case "FREQUENT", "RECENT":
		if len(args) != 2 {
			return "", fmt.Errorf("%s requires 2 arguments: kind limit", command)
		}
		kind, err := cache.ParseKind(args[0])
		if err != nil {
			return "", err
		}
		limit, err := strconv.Atoi(args[1])
		if err != nil {
			return "", fmt.Errorf("invalid number format")
		}
		query := c.MostFrequent
		if command == "RECENT" {
			query = c.Recent
		}
		ids, err := query(ctx, kind, limit)
		if err != nil {
			return "", err
		}
		return strings.Join(ids, " "), nil

	case "SORT":
		if len(args) < 1 {
			return "", fmt.Errorf("SORT requires at least 1 argument: kind [id...]")
		}
		kind, err := cache.ParseKind(args[0])
		if err != nil {
			return "", err
		}
		sorted, err := cache.SortByFrequencyFunc(ctx, c, args[1:], kind, func(id string) string { return id })
		if err != nil {
			return "", err
		}
		return strings.Join(sorted, " "), nil

	case "CLEANUP":
		removed, err := c.Cleanup(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("removed %d", removed), nil

	case "CLEAR":
		if err := c.Clear(ctx); err != nil {
			return "", err
		}
		return "cleared", nil

	case "STATS":
		stats, err := c.Stats(ctx)
		if err != nil {
			return "", err
		}
		return formatStats(stats), nil

	default:
		return "", fmt.Errorf("unknown command: %s", command)
	}
}

func formatStats(stats []cache.KindStats) string {
	fields := make([]string, 0, len(stats))
	for _, s := range stats {
		fields = append(fields, fmt.Sprintf("%s=%d/%d", s.Kind, s.Records, s.Events))
	}
	return strings.Join(fields, " ")
}
