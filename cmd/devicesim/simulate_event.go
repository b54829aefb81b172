package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/alxayo/devlink/internal/channel"
	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/logger"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/udptransport"
)

func newSimulateEventCommand() *cobra.Command {
	var (
		deviceAddr string
		name       string
		data       string
		confirm    bool
	)

	cmd := &cobra.Command{
		Use:   "simulate-event",
		Short: "Send one cloud-to-device event to a running devicesim run instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			return sendEvent(ctx, deviceAddr, name, []byte(data), confirm)
		},
	}

	cmd.Flags().StringVar(&deviceAddr, "device-addr", "127.0.0.1:5683", "UDP address of the running device")
	cmd.Flags().StringVar(&name, "name", "", "Event name, e.g. temperature")
	cmd.Flags().StringVar(&data, "data", "", "Event payload")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Send as a confirmable message and wait for the ack")

	return cmd
}

func sendEvent(ctx context.Context, deviceAddr, name string, data []byte, confirm bool) error {
	log := logger.Logger().With("component", "devicesim.event")

	transport, err := udptransport.Dial(deviceAddr)
	if err != nil {
		return err
	}
	defer transport.Close()

	dc := channel.NewDatagramChannel(transport, true)
	idc := channel.NewIDChannel(dc, 0)
	rc := channel.NewReliableChannel(idc, metrics.New())

	eventType := coap.EventTypeNoAck
	if confirm {
		eventType = coap.EventTypeWithAck
	}
	msg := coap.Event(0, name, data, coap.DefaultMaxAge, coap.ContentFormatTextPlain, eventType, coap.EventPublic, confirm)
	if err := rc.Send(ctx, msg); err != nil {
		return err
	}
	log.Info("event sent", "name", name, "bytes", len(data), "confirm", confirm)

	if !confirm {
		return nil
	}
	ack, err := rc.Receive(ctx)
	if err != nil {
		return err
	}
	log.Info("event acked", "type", ack.Type.String())
	return nil
}
