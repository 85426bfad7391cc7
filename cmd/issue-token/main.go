package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// issue-token mints a student or admin JWT for local testing and for proctors
// whose accounts live outside this service.
func main() {
	kind := flag.String("type", "", "Token type: student or admin")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to Redis ──────────────────────────────────────────────
	// Student tokens register their session id, so the single-device check accepts them.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	authService := service.NewAuthService(cfg, rdb)

	// ─── CLI Input ─────────────────────────────────────────────────────
	// Prompts are printed only on a terminal, so answers can also be piped in.
	interactive = term.IsTerminal(int(os.Stdin.Fd()))
	reader := bufio.NewReader(os.Stdin)

	if *kind == "" {
		*kind = prompt(reader, "Token type (student/admin) [student]: ")
		if *kind == "" {
			*kind = "student"
		}
	}

	var token string
	switch *kind {
	case "student":
		studentID, ok := promptInt(reader, "Enter Student ID: ", 0)
		if !ok || studentID <= 0 {
			fmt.Println("Error: Student ID must be a positive number")
			return
		}
		classID, ok := promptInt(reader, "Enter Class ID (default 0): ", 0)
		if !ok {
			fmt.Println("Error: Class ID must be a number")
			return
		}
		token, err = authService.IssueStudentToken(ctx, studentID, classID)

	case "admin":
		adminID, ok := promptInt(reader, "Enter Admin ID: ", 0)
		if !ok || adminID <= 0 {
			fmt.Println("Error: Admin ID must be a positive number")
			return
		}
		roleID, ok := promptInt(reader, "Enter Role ID (default 1): ", 1)
		if !ok {
			fmt.Println("Error: Role ID must be a number")
			return
		}
		perms := parsePermissions(prompt(reader, "Permissions, comma separated (default exams:monitor): "))
		token, err = authService.IssueAdminToken(adminID, roleID, perms)

	default:
		fmt.Printf("Error: unknown token type %q\n", *kind)
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	if interactive {
		fmt.Println()
	}
	fmt.Println(token)
}

var interactive bool

func prompt(r *bufio.Reader, label string) string {
	if interactive {
		fmt.Print(label)
	}
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

func promptInt(r *bufio.Reader, label string, fallback int) (int, bool) {
	s := prompt(r, label)
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parsePermissions(s string) []string {
	if s == "" {
		return []string{string(model.PermissionExamsMonitor)}
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
