package main

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alxayo/devlink/internal/channel"
	"github.com/alxayo/devlink/internal/chunked"
	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/logger"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/udptransport"
)

func newSimulateUpdateCommand() *cobra.Command {
	var (
		deviceAddr string
		firmware   string
		chunkSize  int
	)

	cmd := &cobra.Command{
		Use:   "simulate-update",
		Short: "Push a firmware image to a running devicesim run instance, as the cloud would",
		RunE: func(cmd *cobra.Command, args []string) error {
			if firmware == "" {
				return fmt.Errorf("--firmware is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			return pushFirmwareUpdate(ctx, deviceAddr, firmware, chunkSize)
		},
	}

	cmd.Flags().StringVar(&deviceAddr, "device-addr", "127.0.0.1:5683", "UDP address of the running device")
	cmd.Flags().StringVar(&firmware, "firmware", "", "Path to the firmware image to push")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 636, "Bytes per firmware chunk")

	return cmd
}

// pushFirmwareUpdate plays the cloud side of the chunked transfer against a
// device listening at deviceAddr: UPDATE_BEGIN, one Chunk POST per
// chunkSize-byte slice of the file, then UPDATE_DONE. Chunks the device
// reports missing are not resent: any UPDATE_DONE reply other than 2.04
// Changed is returned as an error. Used by both the simulate-update
// subcommand and run's update-drop-dir watcher.
func pushFirmwareUpdate(ctx context.Context, deviceAddr, firmwarePath string, chunkSize int) error {
	log := logger.Logger().With("component", "devicesim.push")

	data, err := os.ReadFile(firmwarePath)
	if err != nil {
		return err
	}

	transport, err := udptransport.Dial(deviceAddr)
	if err != nil {
		return err
	}
	defer transport.Close()

	dc := channel.NewDatagramChannel(transport, true)
	idc := channel.NewIDChannel(dc, 0)
	rc := channel.NewReliableChannel(idc, metrics.New())

	payload := make([]byte, 12)
	payload[0] = 0 // flags: normal (non-fast) OTA
	be16(payload[1:3], uint16(chunkSize))
	be32(payload[3:7], uint32(len(data)))
	payload[7] = byte(chunked.StoreFirmware)
	be32(payload[8:12], 0)

	begin := &coap.Message{
		Type:    coap.Confirmable,
		Code:    coap.Post,
		Options: []coap.Option{{Number: coap.OptionURIPath, Value: []byte("u")}},
		Payload: payload,
	}
	if err := rc.Send(ctx, begin); err != nil {
		return err
	}
	if err := expectAck(ctx, rc); err != nil {
		return fmt.Errorf("update_begin rejected: %w", err)
	}
	ready, err := rc.Receive(ctx)
	if err != nil {
		return fmt.Errorf("waiting for update_ready: %w", err)
	}
	if coap.DecodeType(ready) != coap.KindUpdateReady {
		return fmt.Errorf("expected update_ready, got %s", coap.DecodeType(ready))
	}

	chunkCount := (len(data) + chunkSize - 1) / chunkSize
	log.Info("pushing firmware", "path", firmwarePath, "bytes", len(data), "chunks", chunkCount)

	for i := 0; i < chunkCount; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		slice := data[start:end]
		crc := crc32.ChecksumIEEE(slice)
		chunkMsg := coap.Chunk(0, crc, nil, slice, true)
		if err := rc.Send(ctx, chunkMsg); err != nil {
			return err
		}
		if err := expectAck(ctx, rc); err != nil {
			return fmt.Errorf("chunk %d not acked: %w", i, err)
		}
	}

	done := &coap.Message{
		Type:    coap.Confirmable,
		Code:    coap.Post,
		Options: []coap.Option{{Number: coap.OptionURIPath, Value: []byte("ud")}},
	}
	if err := rc.Send(ctx, done); err != nil {
		return err
	}
	reply, err := rc.Receive(ctx)
	if err != nil {
		return fmt.Errorf("waiting for update_done reply: %w", err)
	}
	if reply.Code != coap.Changed {
		log.Warn("device reports incomplete transfer", "code", reply.Code.String())
		return fmt.Errorf("device reported incomplete transfer (code %s)", reply.Code.String())
	}
	log.Info("firmware push complete", "path", firmwarePath)
	return nil
}

func expectAck(ctx context.Context, rc *channel.ReliableChannel) error {
	ack, err := rc.Receive(ctx)
	if err != nil {
		return err
	}
	if ack.Type == coap.Acknowledgement && uint8(ack.Code)>>5 >= 4 {
		return fmt.Errorf("device rejected with code %s", ack.Code.String())
	}
	return nil
}

func be16(dst []byte, v uint16) { dst[0] = byte(v >> 8); dst[1] = byte(v) }
func be32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
