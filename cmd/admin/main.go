package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"strangerchat/backend/internal/api/handler"
	"strangerchat/backend/internal/chat"
	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/logging"
	"strangerchat/backend/internal/matchmaking"
	"strangerchat/backend/internal/presence"
	"strangerchat/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  queue                    list users waiting for a partner
  online                   list online users
  rooms <user_id>          list the user's active rooms
  end <room_id> <user_id>  end a room on behalf of a participant
  token <user_id> [ttl]    mint an API token (default ttl 1h)`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup("warn", true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "queue":
		kv, rdb := openRedis(ctx, cfg)
		defer rdb.Close()
		users, err := matchmaking.NewQueue(kv).Waiting(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read queue")
		}
		printList(users)
	case "online":
		kv, rdb := openRedis(ctx, cfg)
		defer rdb.Close()
		users, err := presence.NewRegistry(kv, cfg.Presence.TTL).OnlineUsers(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to read presence")
		}
		printList(users)
	case "rooms":
		requireArgs(args, 1, "admin rooms <user_id>")
		rooms, err := chat.NewRoomService(openStorage(cfg)).GetUserRooms(ctx, args[0])
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list rooms")
		}
		for _, room := range rooms {
			fmt.Printf("%s\t%s\t%s\tstarted %s\n", room.ID, room.User1ID, room.User2ID, room.CreatedAt.Format(time.RFC3339))
		}
	case "end":
		requireArgs(args, 2, "admin end <room_id> <user_id>")
		if err := endRoom(ctx, cfg, args[0], args[1]); err != nil {
			log.Fatal().Err(err).Msg("failed to end room")
		}
		fmt.Printf("Room %s has been ended.\n", args[0])
	case "token":
		requireArgs(args, 1, "admin token <user_id> [ttl]")
		ttl := time.Hour
		if len(args) > 1 {
			if ttl, err = time.ParseDuration(args[1]); err != nil {
				fmt.Println("Invalid ttl. Use a duration such as 30m or 24h.")
				os.Exit(1)
			}
		}
		if cfg.JWT.Secret == "" {
			fmt.Println("jwt.secret is not configured")
			os.Exit(1)
		}
		token, err := handler.IssueToken([]byte(cfg.JWT.Secret), args[0], ttl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to sign token")
		}
		fmt.Println(token)
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

// endRoom ends the room through the protocol handler, so participants that
// are online on any instance are told about it.
func endRoom(ctx context.Context, cfg *config.Config, roomID, userID string) error {
	kv, rdb := openRedis(ctx, cfg)
	defer rdb.Close()

	s := openStorage(cfg)
	rooms := chat.NewRoomService(s)
	relay := chathub.NewRelay(rdb, chathub.NewHub())
	h := chathub.NewHandler(presence.NewRegistry(kv, cfg.Presence.TTL), matchmaking.NewQueue(kv), rooms, chat.NewMessageService(s, rooms), relay)

	_, err := h.EndRoom(ctx, userID, roomID, "admin")
	return err
}

func openStorage(cfg *config.Config) *storage.Service {
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	return storage.NewStorageService(db)
}

func openRedis(ctx context.Context, cfg *config.Config) (*storage.RedisKV, *redis.Client) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect Redis")
	}
	return storage.NewRedisKV(rdb), rdb
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Println("Usage: " + usage)
		os.Exit(1)
	}
}

func printList(items []string) {
	if len(items) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, item := range items {
		fmt.Println(item)
	}
}
