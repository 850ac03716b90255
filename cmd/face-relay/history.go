package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/stface-relay/internal/infra/storage"
)

func newHistoryCmd() *cobra.Command {
	var (
		dbPath    string
		sessionID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded sessions, or the ticks of one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.Storage.Path
			}
			if dbPath == "" {
				return fmt.Errorf("no database configured, set storage.path or --db")
			}

			db, err := storage.InitSQLite(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if sessionID == "" {
				sessions, err := storage.NewSQLiteSessionRepository(db).List(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Println(sessionTable(sessions))
				return nil
			}

			ticks, err := storage.NewSQLiteTickRepository(db).GetBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			if limit > 0 && len(ticks) > limit {
				ticks = ticks[len(ticks)-limit:]
			}
			fmt.Println(tickTable(ticks))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database (defaults to storage.path)")
	cmd.Flags().StringVar(&sessionID, "session", "", "show the ticks of this session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum rows")
	return cmd
}

func sessionTable(sessions []storage.Session) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("SESSION", "GAME", "STARTED", "ENDED", "THRESHOLD")
	for _, s := range sessions {
		ended := "running"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format(time.DateTime)
		}
		t.Row(s.SessionID, s.GameID, s.StartedAt.Local().Format(time.DateTime), ended,
			strconv.FormatFloat(s.ConfidenceThreshold, 'f', 2, 64))
	}
	return t
}

func tickTable(ticks []storage.TickRecord) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("TICK", "TIME", "EVENT", "HEALTH", "CONF", "FRAME", "LOOK")
	for _, r := range ticks {
		t.Row(strconv.FormatInt(r.Tick, 10), r.Timestamp.Local().Format("15:04:05.000"), r.EventType,
			strconv.Itoa(r.HealthPercent), strconv.FormatFloat(r.Confidence, 'f', 2, 64), r.Frame, r.Look)
	}
	return t
}
