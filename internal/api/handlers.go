package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"drone-command-gateway/internal/activity"
	"drone-command-gateway/internal/commands"
	"drone-command-gateway/internal/models"
	"drone-command-gateway/internal/proxy"
	"drone-command-gateway/internal/telemetry"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

const maxUploadMemory = 32 << 20

func (s *Server) timestamp() string {
	return s.now().In(models.Zone).Format(time.RFC3339)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service":   ServiceName,
		"version":   Version,
		"status":    "running",
		"drone_api": s.droneAPI,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"gateway":   "running",
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleGPSData(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeObject(r)
	if !ok || len(data) == 0 {
		respondError(w, http.StatusBadRequest, "No data provided")
		return
	}

	now := s.now()
	sample, err := telemetry.FromPayload(data, now)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.Append(sample)

	if s.archive != nil {
		if _, err := s.archive.InsertSample(sample, now); err != nil {
			log.WithError(err).WithField("drone_id", sample.DroneID).Warn("Failed to archive telemetry sample")
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "GPS data received",
	})
}

func (s *Server) handleGPSHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleLogAction(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeObject(r)
	if !ok {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "No data provided",
		})
		return
	}

	action := "Unknown action"
	if v, ok := data["action"]; ok && v != nil {
		action = activity.Label(v)
	}
	response := "No response"
	if v, ok := data["response"]; ok && v != nil {
		response = activity.Summarize(v)
	}

	// a failed append is already reported on the operator log
	s.history.Append(clientIP(r), action, response)

	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.Tail(s.historyLimit)
	if err != nil {
		log.WithError(err).Error("Failed to read action history")
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"history": []models.ActionRecord{},
			"error":   err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"history": records})
}

// handleCommand serves a command that carries no request payload
func (s *Server) handleCommand(cmd commands.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := s.dispatcher.Execute(r.Context(), cmd, commands.Call{Source: clientIP(r)})
		respondJSON(w, result.StatusCode, result.Body)
	}
}

func (s *Server) handleTemplateMission(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeObject(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "No mission data provided")
		return
	}

	result := s.dispatcher.Execute(r.Context(), commands.ExecuteTemplateMission, commands.Call{
		Source:  clientIP(r),
		Payload: data,
	})
	respondJSON(w, result.StatusCode, result.Body)
}

// handleFileCommand serves a command that uploads a mission file
func (s *Server) handleFileCommand(cmd commands.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attachment, err := readMissionFile(r)
		if err != nil {
			log.WithError(err).WithField("command", cmd.Name).Debug("Rejected upload")
			respondMessage(w, http.StatusBadRequest, "No mission file provided")
			return
		}

		result := s.dispatcher.Execute(r.Context(), cmd, commands.Call{
			Source: clientIP(r),
			File:   attachment,
		})
		respondJSON(w, result.StatusCode, result.Body)
	}
}

func readMissionFile(r *http.Request) (*proxy.Attachment, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}

	file, header, err := r.FormFile(proxy.FileField)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	return &proxy.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) handleGenericCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["command"]

	data, ok := decodeObject(r)
	if !ok {
		data = map[string]interface{}{}
	}

	result := s.dispatcher.Execute(r.Context(), commands.Generic(name), commands.Call{
		Source:  clientIP(r),
		Payload: data,
	})
	respondJSON(w, result.StatusCode, result.Body)
}
