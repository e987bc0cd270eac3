package detector

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName registers a JSON wire codec under grpc's encoding registry.
// The upstream detector model plane is not vendored into this module (no
// protoc run here), so requests/responses are marshaled as JSON instead of
// protobuf; the method name still goes over a real grpc.ClientConn/HTTP2
// stream, so retries, deadlines, and keepalive all behave as grpc clients
// elsewhere in this codebase expect.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// inferRequest/inferResponse are the wire shapes exchanged with the
// detector model plane over the /detector.v1.Detector/Infer method.
type inferRequest struct {
	FrameJPEG []byte      `json:"frame_jpeg"`
	FrameW    int         `json:"frame_w"`
	FrameH    int         `json:"frame_h"`
	Spaces    []wireSpace `json:"spaces"`
}

type wireSpace struct {
	SpaceID string `json:"space_id"`
	X1      int    `json:"x1"`
	Y1      int    `json:"y1"`
	X2      int    `json:"x2"`
	Y2      int    `json:"y2"`
}

type inferResponse struct {
	Results []wireResult `json:"results"`
}

type wireResult struct {
	SpaceID    string   `json:"space_id"`
	Occupied   *bool    `json:"occupied"`
	Confidence *float64 `json:"confidence"`
}

// GRPCDetector calls out to the external detector model plane named by
// DETECTOR_GRPC_ADDR. Grounded on internal/media's Client wrapper: a
// *grpc.ClientConn plus typed methods and a Close.
type GRPCDetector struct {
	conn *grpc.ClientConn
	addr string
}

func DialGRPC(addr string) (*GRPCDetector, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial detector plane %s: %w", addr, err)
	}
	return &GRPCDetector{conn: conn, addr: addr}, nil
}

func (c *GRPCDetector) Close() error {
	return c.conn.Close()
}

func (c *GRPCDetector) Infer(ctx context.Context, frame []byte, frameW, frameH int, spaces []SpaceInput) ([]SpaceResult, error) {
	req := &inferRequest{FrameJPEG: frame, FrameW: frameW, FrameH: frameH}
	for _, sp := range spaces {
		req.Spaces = append(req.Spaces, wireSpace{
			SpaceID: sp.SpaceID,
			X1:      sp.RefBBox.X1, Y1: sp.RefBBox.Y1,
			X2: sp.RefBBox.X2, Y2: sp.RefBBox.Y2,
		})
	}

	var resp inferResponse
	err := c.conn.Invoke(ctx, "/detector.v1.Detector/Infer", req, &resp)
	if err != nil {
		return nil, fmt.Errorf("detector plane infer: %w", err)
	}

	out := make([]SpaceResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, SpaceResult{SpaceID: r.SpaceID, Occupied: r.Occupied, Confidence: r.Confidence})
	}
	return out, nil
}
