package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"case-study-live-eval/internal/service/audio"
)

// Stream audio in chunks to simulate real-time streaming
const chunkInterval = 100 * time.Millisecond

func newStreamCmd() *cobra.Command {
	var (
		server    string
		sessionID string
		realtime  bool
	)
	cmd := &cobra.Command{
		Use:   "stream <file.wav>",
		Short: "Stream a PCM WAV file into a new session over the websocket endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open audio file: %w", err)
			}
			defer f.Close()

			format, err := audio.ReadWAVHeader(f)
			if err != nil {
				return err
			}
			log.Info().
				Uint16("channels", format.Channels).
				Uint32("sampleRate", format.SampleRate).
				Uint16("bitsPerSample", format.BitsPerSample).
				Msg("WAV file")

			id, err := createSession(server, sessionID)
			if err != nil {
				return err
			}
			log.Info().Str("sessionId", id).Msg("Session created")

			wsURL, err := streamURL(server, id)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, nil)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer conn.Close()

			chunk := make([]byte, format.ChunkSize(chunkInterval))
			var totalBytes int64
			chunks := 0
			startTime := time.Now()
			for {
				n, err := io.ReadFull(f, chunk)
				if n > 0 {
					if werr := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); werr != nil {
						return fmt.Errorf("failed to send chunk: %w", werr)
					}
					chunks++
					totalBytes += int64(n)
					if chunks%50 == 0 {
						log.Info().Int("chunks", chunks).Int64("bytes", totalBytes).Msg("Streaming")
					}
					if realtime {
						time.Sleep(chunkInterval)
					}
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("failed to read audio: %w", err)
				}
			}
			log.Info().Int("chunks", chunks).Int64("bytes", totalBytes).Dur("elapsed", time.Since(startTime)).
				Msg("Finished streaming, waiting for final version")

			if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
				return err
			}
			var resp json.RawMessage
			if err := conn.ReadJSON(&resp); err != nil {
				return fmt.Errorf("failed to read stop response: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(resp))
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "service base URL")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
	cmd.Flags().BoolVar(&realtime, "realtime", true, "pace chunks at real time")
	return cmd
}

func createSession(server, id string) (string, error) {
	body, _ := json.Marshal(map[string]string{"sessionId": id})
	resp, err := http.Post(strings.TrimRight(server, "/")+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("create session: decode response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("create session: %s (status %d)", out.Error, resp.StatusCode)
	}
	return out.Data.ID, nil
}

func streamURL(server, id string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/sessions/" + url.PathEscape(id) + "/stream"
	return u.String(), nil
}
