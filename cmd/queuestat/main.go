// Command queuestat prints the publish queue counts and the most recent
// failed jobs.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/queue"
)

func main() {
	limit := flag.Int("failed", 20, "number of failed jobs to list")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}
	cfg := config.LoadConfig()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURI)
	if err != nil {
		log.Fatalf("Invalid redis uri: %v", err)
	}
	in := asynq.NewInspector(redisOpt)
	defer in.Close()

	inspector := queue.NewInspector(in)
	stats, err := inspector.Stats()
	if err != nil {
		log.Fatalf("Unable to read queue stats: %v", err)
	}
	failed, err := inspector.FailedJobs(*limit)
	if err != nil {
		log.Fatalf("Unable to list failed jobs: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Stats  queue.Stats       `json:"stats"`
		Failed []queue.FailedJob `json:"failed"`
	}{stats, failed}); err != nil {
		log.Fatal(err)
	}
}
