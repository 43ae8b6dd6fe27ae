package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"matchgogo/backend/internal/config"
	"matchgogo/backend/internal/storage"
)

const usage = `Usage: admin <command> [args]

Commands:
  ban <identity> [duration_in_hours]   block an identity (0 or omitted: until unban)
  unban <identity>                     lift a ban
  matches <identity>                   list the identity's matches
  calls <identity> [limit]             list the identity's latest calls`

func main() {
	if len(os.Args) < 3 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := open(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	command, identity := os.Args[1], os.Args[2]
	switch command {
	case "ban":
		var hours int
		if len(os.Args) > 3 {
			hours, err = strconv.Atoi(os.Args[3])
			if err != nil || hours < 0 {
				fmt.Println("Invalid duration. Please provide a non-negative integer.")
				os.Exit(1)
			}
		}
		if err := s.Ban(ctx, identity, time.Duration(hours)*time.Hour); err != nil {
			log.Fatalf("Error banning %s: %v", identity, err)
		}
		fmt.Printf("%s has been banned.\n", identity)
	case "unban":
		if err := s.Unban(ctx, identity); err != nil {
			log.Fatalf("Error unbanning %s: %v", identity, err)
		}
		fmt.Printf("%s has been unbanned.\n", identity)
	case "matches":
		matches, err := s.ListMatches(ctx, identity)
		if err != nil {
			log.Fatalf("Error listing matches: %v", err)
		}
		printJSON(matches)
	case "calls":
		limit := 20
		if len(os.Args) > 3 {
			limit, err = strconv.Atoi(os.Args[3])
			if err != nil || limit <= 0 {
				fmt.Println("Invalid limit. Please provide a positive integer.")
				os.Exit(1)
			}
		}
		sessions, err := s.ListCallSessions(ctx, identity, limit)
		if err != nil {
			log.Fatalf("Error listing calls: %v", err)
		}
		printJSON(sessions)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg *config.Config) (*storage.Service, error) {
	if cfg.Storage.Driver != "postgres" {
		return nil, fmt.Errorf("admin needs the postgres driver, got %q", cfg.Storage.Driver)
	}
	db, err := storage.OpenPostgres(cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	// Бани зберігаються в Redis
	if cfg.Redis.Addr == "" {
		return storage.NewStorageService(db, nil), nil
	}
	rdb, err := storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return storage.NewStorageService(db, rdb), nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
