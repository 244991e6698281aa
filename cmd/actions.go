package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/google/uuid"
	"go.dedis.ch/castor/httpserver"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

const actionTimeout = 30 * time.Second

var errExit = errors.New("exit")

var actionOpts = []string{
	"🌱 Upload chunk",
	"🌿 Activate chunk",
	"🦑 Reserve tuples",
	"🐋 Show reservation",
	"🐊 Show chunk",
	"🐙 Telemetry",
	"🍃 Exit",
}

var actions = map[string]func(*httpserver.Client) error{
	actionOpts[0]: uploadChunk,
	actionOpts[1]: activateChunk,
	actionOpts[2]: reserveTuples,
	actionOpts[3]: showReservation,
	actionOpts[4]: showChunk,
	actionOpts[5]: showTelemetry,
	actionOpts[6]: exit,
}

// -----------------------------------------------------------------------------
// CMD Actions

func uploadChunk(client *httpserver.Client) error {
	tupleType, err := askTupleType()
	if err != nil {
		return err
	}

	path := ""
	err = survey.AskOne(&survey.Input{Message: "Path of the tuple file:"}, &path, survey.WithValidator(survey.Required))
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("failed to read %s: %v", path, err)
	}

	chunkID := uuid.NewString()
	err = survey.AskOne(&survey.Input{Message: "Chunk id:", Default: chunkID}, &chunkID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	err = client.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType, Data: data})
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded chunk %s (%d bytes of %s)\n", chunkID, len(data), tupleType)

	activate := false
	err = survey.AskOne(&survey.Confirm{Message: "Activate it now?"}, &activate)
	if err != nil || !activate {
		return err
	}
	err = client.Activate(ctx, chunkID)
	if err != nil {
		return err
	}
	fmt.Printf("Chunk %s activated\n", chunkID)
	return nil
}

func activateChunk(client *httpserver.Client) error {
	chunkID := ""
	err := survey.AskOne(&survey.Input{Message: "Chunk id:"}, &chunkID, survey.WithValidator(survey.Required))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	err = client.Activate(ctx, chunkID)
	if err != nil {
		return err
	}
	fmt.Printf("Chunk %s activated\n", chunkID)
	return nil
}

func reserveTuples(client *httpserver.Client) error {
	tupleType, err := askTupleType()
	if err != nil {
		return err
	}

	countStr := ""
	err = survey.AskOne(&survey.Input{Message: "How many tuples?"}, &countStr, survey.WithValidator(positiveInt))
	if err != nil {
		return err
	}
	count, _ := strconv.ParseInt(countStr, 10, 64)

	reservationID := uuid.NewString()
	err = survey.AskOne(&survey.Input{Message: "Reservation id:", Default: reservationID}, &reservationID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	reservation, err := client.Reserve(ctx, types.ReservationRequest{
		ReservationID: reservationID,
		TupleType:     tupleType,
		Count:         count,
	})
	if err != nil {
		return err
	}
	printReservation(reservation)
	return nil
}

func showReservation(client *httpserver.Client) error {
	reservationID := ""
	err := survey.AskOne(&survey.Input{Message: "Reservation id:"}, &reservationID, survey.WithValidator(survey.Required))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	reservation, err := client.Reservation(ctx, reservationID)
	if err != nil {
		return err
	}
	printReservation(reservation)
	return nil
}

func showChunk(client *httpserver.Client) error {
	chunkID := ""
	err := survey.AskOne(&survey.Input{Message: "Chunk id:"}, &chunkID, survey.WithValidator(survey.Required))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	view, err := client.Chunk(ctx, chunkID)
	if err != nil {
		return err
	}

	fmt.Printf("Chunk %s: %d %s tuples, %s\n", view.Chunk.ID, view.Chunk.TupleCount, view.Chunk.TupleType, view.Chunk.Status)
	for _, f := range view.Fragments {
		owner := "free"
		if f.IsConsumed() {
			owner = f.ReservationID
		}
		fmt.Printf("  [%d, %d) %s\n", f.Start, f.End, owner)
	}
	return nil
}

func showTelemetry(client *httpserver.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()
	available, err := client.Telemetry(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-28s %d\n", name, available[name])
	}
	return nil
}

func exit(*httpserver.Client) error {
	return errExit
}

// -----------------------------------------------------------------------------
// Utils

func askTupleType() (string, error) {
	names := make([]string, len(types.SupportedTupleTypes))
	for i, tt := range types.SupportedTupleTypes {
		names[i] = tt.Name
	}
	tupleType := ""
	err := survey.AskOne(&survey.Select{Message: "Tuple type:", Options: names}, &tupleType)
	return tupleType, err
}

func positiveInt(ans interface{}) error {
	s, _ := ans.(string)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return errors.New("please enter a positive number")
	}
	return nil
}

func printReservation(r types.Reservation) {
	fmt.Printf("Reservation %s: %d %s\n", r.ID, r.Count(), r.TupleType)
	for _, e := range r.Elements {
		fmt.Printf("  chunk %s [%d, %d)\n", e.ChunkID, e.StartIndex, e.StartIndex+e.Length)
	}
}

func printError(err error) {
	fmt.Printf("~~ERROR~~ (%s) %v\n", types.Classify(err), err)
}
