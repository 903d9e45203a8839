package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"trainbank/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func renderGameState(s game.GameState) {
	accent.Printf("\n== %s (game %d) ==\n", s.Game.Name, s.Game.ID)
	fmt.Printf("Bank: %s\n", formatCash(s.Game.Cash))

	players := make(map[int64]string, len(s.Players))
	companies := make(map[int64]string, len(s.Companies))
	for _, p := range s.Players {
		players[p.ID] = p.Name
	}
	for _, c := range s.Companies {
		companies[c.ID] = c.Name
	}

	fmt.Println()
	accent.Println("Players")
	if len(s.Players) == 0 {
		printInfo("No players yet.")
	} else {
		fmt.Printf("%-6s %-20s %10s\n", "ID", "NAME", "CASH")
		for _, p := range s.Players {
			fmt.Printf("%-6d %-20s %10s\n", p.ID, truncate(p.Name, 20), formatCash(p.Cash))
		}
	}

	fmt.Println()
	accent.Println("Companies")
	if len(s.Companies) == 0 {
		printInfo("No companies yet.")
	} else {
		fmt.Printf("%-6s %-20s %10s %7s %5s %5s\n", "ID", "NAME", "CASH", "SHARES", "IPO", "POOL")
		for _, c := range s.Companies {
			fmt.Printf("%-6d %-20s %10s %7d %5d %5d\n",
				c.ID, truncate(c.Name, 20), formatCash(c.Cash), c.ShareCount, c.IPOShares, c.BankShares)
		}
	}

	fmt.Println()
	accent.Println("Holdings")
	rows := 0
	for _, sh := range s.Shares {
		if sh.Shares == 0 {
			continue
		}
		if rows == 0 {
			fmt.Printf("%-20s %-20s %7s\n", "OWNER", "COMPANY", "SHARES")
		}
		rows++
		fmt.Printf("%-20s %-20s %7s\n",
			truncate(ownerName(sh.Owner(), players, companies), 20),
			truncate(companies[sh.CompanyID], 20),
			colorizeCount(sh.Shares))
	}
	if rows == 0 {
		printInfo("No shares held.")
	}
	fmt.Println()
}

func renderAffected(a game.Affected) {
	if a.Log != nil {
		success.Println(logLine(*a.Log))
	}
	if a.Game != nil {
		fmt.Printf("  bank           %10s\n", formatCash(a.Game.Cash))
	}
	for _, p := range a.Players {
		fmt.Printf("  %-14s %10s\n", truncate(p.Name, 14), formatCash(p.Cash))
	}
	for _, c := range a.Companies {
		fmt.Printf("  %-14s %10s  ipo %d  pool %d\n", truncate(c.Name, 14), formatCash(c.Cash), c.IPOShares, c.BankShares)
	}
	for _, sh := range a.Shares {
		fmt.Printf("  %-14s %10s shares of company %d\n", sh.Owner().String(), colorizeCount(sh.Shares), sh.CompanyID)
	}
}

func renderHistory(h game.History) {
	accent.Println("\n== LOG ==")
	if len(h.Entries) == 0 {
		printInfo("Log is empty.")
		return
	}
	for _, e := range h.Entries {
		marker := "  "
		line := logLine(e)
		switch {
		case e.ID == h.Cursor:
			marker = "> "
		case e.Seq > cursorSeq(h):
			// Undone entries waiting for redo.
			line = neutral.Sprint(line)
		}
		fmt.Printf("%s%4d  %s\n", marker, e.Seq, line)
	}
	fmt.Println()
}

func cursorSeq(h game.History) int64 {
	for _, e := range h.Entries {
		if e.ID == h.Cursor {
			return e.Seq
		}
	}
	return 0
}

func logLine(e game.LogEntry) string {
	if e.Action == "" {
		return "(start of game)"
	}
	if strings.TrimSpace(e.Text) != "" {
		return e.Text
	}
	return string(e.Action)
}

func ownerName(p game.Party, players, companies map[int64]string) string {
	switch p.Kind {
	case game.KindPlayer:
		if name, ok := players[p.ID]; ok {
			return name
		}
	case game.KindCompany:
		if name, ok := companies[p.ID]; ok {
			return name
		}
	}
	return p.String()
}

func colorizeCount(v int64) string {
	text := strconv.FormatInt(v, 10)
	if v < 0 {
		return danger.Sprint(text)
	}
	return text
}

func formatCash(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + "$" + comma(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
