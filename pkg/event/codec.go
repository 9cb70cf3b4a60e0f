package event

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeFrames serializes the event payload as one frame per component:
// the msgpack-encoded header, the UTF-8 name, then one msgpack frame per
// argument. Peer identity and the empty delimiter are transport framing and
// are not part of the payload.
func EncodeFrames(e *Event) ([][]byte, error) {
	frames := make([][]byte, 0, 2+len(e.Args))

	header, err := msgpack.Marshal(e.Header)
	if err != nil {
		return nil, fmt.Errorf("encode header of event %s: %w", e.Name, err)
	}
	frames = append(frames, header, []byte(e.Name))

	for i, arg := range e.Args {
		frame, err := msgpack.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode arg %d of event %s: %w", i, e.Name, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// DecodeFrames is the inverse of EncodeFrames. Unknown header keys are
// preserved; receivers must tolerate them.
func DecodeFrames(frames [][]byte) (*Event, error) {
	if len(frames) < 2 {
		return nil, fmt.Errorf("decode event: want at least 2 frames, got %d", len(frames))
	}

	var header map[string]any
	if err := msgpack.Unmarshal(frames[0], &header); err != nil {
		return nil, fmt.Errorf("decode event header: %w", err)
	}
	if header == nil {
		header = make(map[string]any)
	}

	name := string(frames[1])

	var args []any
	if len(frames) > 2 {
		args = make([]any, 0, len(frames)-2)
		for i, frame := range frames[2:] {
			var arg any
			if err := msgpack.Unmarshal(frame, &arg); err != nil {
				return nil, fmt.Errorf("decode arg %d of event %s: %w", i, name, err)
			}
			args = append(args, arg)
		}
	}

	return &Event{Name: name, Args: args, Header: header}, nil
}
