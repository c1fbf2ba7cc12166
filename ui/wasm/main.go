//go:build js && wasm

// Browser helpers for the winder console link and the layer planner. A page
// talking to the board over Web Serial frames requests with encodeFrame and
// feeds received bytes to decodeFrames.
package main

import (
	"encoding/hex"
	"encoding/json"
	"syscall/js"

	"coilwinder/planner"
	"coilwinder/protocol"
)

// one decoder per page, since replies arrive split across reads
var decoder = protocol.NewDecoder()

func main() {
	js.Global().Set("coilWinder", js.ValueOf(map[string]interface{}{
		"crc16":        js.FuncOf(crc16Wrapper),
		"encodeFrame":  js.FuncOf(encodeFrameWrapper),
		"decodeFrames": js.FuncOf(decodeFramesWrapper),
		"resetDecoder": js.FuncOf(resetDecoderWrapper),
		"plan":         js.FuncOf(planWrapper),
	}))

	select {}
}

// crc16Wrapper checksums hex-encoded bytes
func crc16Wrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

// encodeFrameWrapper frames one request, split over as many frames as it
// needs. Args: seq (0-15), text. Returns hex or {error}.
func encodeFrameWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return makeError("usage: encodeFrame(seq, text)")
	}
	msg := protocol.AppendMessage(nil, uint8(args[0].Int())&protocol.SeqMask, args[1].String())
	return js.ValueOf(hex.EncodeToString(msg))
}

// decodeFramesWrapper feeds hex-encoded bytes to the decoder.
// Returns {frames: [{seq, more, cont, text}], resyncs} or {error}.
func decodeFramesWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeError("missing hex string argument")
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return makeError("invalid hex string: " + err.Error())
	}
	decoder.Write(data)

	frames := []interface{}{}
	for f, ok := decoder.Next(); ok; f, ok = decoder.Next() {
		frames = append(frames, map[string]interface{}{
			"seq":  int(f.Seq),
			"more": f.More,
			"cont": f.Cont,
			"text": string(f.Payload),
		})
	}
	return js.ValueOf(map[string]interface{}{
		"frames":  frames,
		"resyncs": decoder.Resyncs(),
	})
}

func resetDecoderWrapper(this js.Value, args []js.Value) interface{} {
	decoder.Reset()
	return js.Undefined()
}

// planWrapper plans a coil with the default machine geometry.
// Args: turns, width_mm, awg, wire type. Returns the plan as a JSON string.
func planWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return makeError("usage: plan(turns, widthMM, awg, [type])")
	}
	wireName := ""
	if len(args) > 3 {
		wireName = args[3].String()
	}
	wire, err := planner.ParseWireType(wireName)
	if err != nil {
		return makeError(err.Error())
	}
	p, err := planner.ForWire(args[0].Int(), args[1].Float(), args[2].Int(), wire, planner.DefaultGeometry())
	if err != nil {
		return makeError(err.Error())
	}
	out, err := json.Marshal(map[string]interface{}{
		"summary":          p.Summary(),
		"wire_diameter_mm": p.WireDiameterMM,
		"steps_per_turn":   p.StepsPerTurn,
		"layers":           p.Layers,
	})
	if err != nil {
		return makeError(err.Error())
	}
	return js.ValueOf(string(out))
}

func makeError(msg string) js.Value {
	return js.ValueOf(map[string]interface{}{"error": msg})
}
