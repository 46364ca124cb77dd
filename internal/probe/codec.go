package probe

import (
	"StreamCoverage/internal/model"
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeObservation serializes an observation as a protobuf Struct.
// Offsets are carried as decimal strings since Struct numbers are doubles.
func EncodeObservation(obs model.Observation) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]interface{}{
		"src":            obs.Key.Flow.Src.String(),
		"dst":            obs.Key.Flow.Dst.String(),
		"src_port":       int(obs.Key.SrcPort),
		"dst_port":       int(obs.Key.DstPort),
		"direction":      obs.Key.Direction.String(),
		"start":          strconv.FormatUint(obs.Start, 10),
		"end":            strconv.FormatUint(obs.End, 10),
		"at":             obs.At.String(),
		"classification": obs.Classification.String(),
		"gaps_before":    obs.GapsBefore,
		"gaps_after":     obs.GapsAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build observation message: %w", err)
	}
	return proto.Marshal(msg)
}

// DecodeObservation is the inverse of EncodeObservation.
func DecodeObservation(data []byte) (model.Observation, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return model.Observation{}, fmt.Errorf("failed to unmarshal protobuf: %w", err)
	}
	f := msg.GetFields()
	str := func(name string) string { return f[name].GetStringValue() }
	num := func(name string) float64 { return f[name].GetNumberValue() }

	var (
		obs model.Observation
		err error
	)
	if obs.Key.Flow.Src, err = model.ParseAddr(str("src")); err != nil {
		return obs, err
	}
	if obs.Key.Flow.Dst, err = model.ParseAddr(str("dst")); err != nil {
		return obs, err
	}
	if obs.Key.Direction, err = model.ParseDirection(str("direction")); err != nil {
		return obs, err
	}
	if obs.Start, err = strconv.ParseUint(str("start"), 10, 64); err != nil {
		return obs, fmt.Errorf("%w: start: %v", model.ErrParse, err)
	}
	if obs.End, err = strconv.ParseUint(str("end"), 10, 64); err != nil {
		return obs, fmt.Errorf("%w: end: %v", model.ErrParse, err)
	}
	if obs.At, err = model.ParseTimestamp(str("at")); err != nil {
		return obs, err
	}
	if obs.Classification, err = model.ParseClassification(str("classification")); err != nil {
		return obs, err
	}
	obs.Key.SrcPort = uint16(num("src_port"))
	obs.Key.DstPort = uint16(num("dst_port"))
	obs.GapsBefore = int(num("gaps_before"))
	obs.GapsAfter = int(num("gaps_after"))
	return obs, nil
}
