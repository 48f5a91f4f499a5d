/*
Package handler provides HTTP handler functions for room discovery ahead of a websocket join.
*/
package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"sketchsync/internal/app/participant"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/randx"
	"sketchsync/internal/pkg/req"
	"sketchsync/internal/pkg/resp"
)

// RoomStatus tells a client whether it must ask for a password before joining.
type RoomStatus struct {
	RoomID      string   `json:"roomId"`
	Exists      bool     `json:"exists"`
	Protected   bool     `json:"protected"`
	MemberCount int      `json:"memberCount"`
	Members     []string `json:"members"`
}

type CheckRoomInput struct {
	RoomID string `json:"roomId" validate:"required,max=64,printascii"`
}

// HandleGetRoom reports the status of the room named in the URL.
func HandleGetRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		if roomID == "" || len(roomID) > 64 {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		respondRoomStatus(w, r, deps, roomID)
	}
}

// HandleCheckRoom is the JSON body variant of HandleGetRoom.
func HandleCheckRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CheckRoomInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		respondRoomStatus(w, r, deps, input.RoomID)
	}
}

func respondRoomStatus(w http.ResponseWriter, r *http.Request, deps *AppDeps, roomID string) {
	info, err := deps.Registry.Lookup(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, errs.NewError(errs.ErrRoomNotFound)) {
			resp.RespondSuccess(w, r, RoomStatus{RoomID: roomID, Members: []string{}})
			return
		}

		logx.Error(err, "Room lookup failed", "room_id", roomID)
		resp.RespondError(w, r, err)
		return
	}

	status := RoomStatus{
		RoomID:      info.ID,
		Exists:      true,
		Protected:   info.Protected,
		MemberCount: len(info.Members),
		Members:     []string{},
	}

	// names in a protected room are only shown to members
	if !info.Protected {
		status.Members = lo.Map(info.Members, func(p participant.Participant, _ int) string {
			return p.DisplayName
		})
	}

	resp.RespondSuccess(w, r, status)
}

// HandleNewRoomCode hands out a fresh random room id. The room itself is created by the first join.
func HandleNewRoomCode(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for range 5 {
			code, err := randx.RoomCode()
			if err != nil {
				logx.Error(err, "Failed to generate room code")
				resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
				return
			}

			if lo.Contains(deps.Registry.RoomIDs(), code) {
				continue
			}

			resp.RespondSuccess(w, r, map[string]string{"roomId": code})
			return
		}

		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
	}
}
