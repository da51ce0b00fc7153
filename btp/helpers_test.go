package btp

import "encoding/json"

func unmarshalFrame(data []byte, f *Frame) error {
	return json.Unmarshal(data, f)
}

func writeFrameRaw(conn *fakeConn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(1, data)
}
