package vmexec

import (
	"github.com/wasmerio/wasmer-go/wasmer"

	"starkdevnet/core/felt"
	"starkdevnet/core/txn"
)

// registerHost converts the hostCtx's Go-side effects (storage, gas,
// events, L1 messages) into the wasm imports a class module links
// against under the "env" namespace. Keys/values cross the boundary as
// raw 32-byte felt encodings; the guest is responsible for laying them
// out in its own linear memory and passing pointer/length pairs.
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		data := h.mem.Data()[ptr : ptr+ln]
		out := make([]byte, ln)
		copy(out, data)
		return out
	}
	write := func(ptr int32, data []byte) { copy(h.mem.Data()[ptr:], data) }
	readFelt := func(ptr int32) felt.Felt {
		f, _ := felt.FromBytes(read(ptr, 32))
		return f
	}

	i32 := wasmer.ValueKind(wasmer.I32)

	consumeGas := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			amount := uint64(args[0].I32())
			if err := h.gas.consume(amount); err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	storageRead := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32, i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr, keyPtr, dstPtr := args[0].I32(), args[1].I32(), args[2].I32()
			addr, key := readFelt(addrPtr), readFelt(keyPtr)
			val, err := h.state.GetStorage(addr, key)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			write(dstPtr, val[:])
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	storageWrite := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32, i32), wasmer.NewValueTypes(i32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			addrPtr, keyPtr, valPtr := args[0].I32(), args[1].I32(), args[2].I32()
			addr, key, val := readFelt(addrPtr), readFelt(keyPtr), readFelt(valPtr)
			h.state.SetStorage(addr, key, val)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	emitEvent := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			if ln < 32 {
				return []wasmer.Value{}, nil
			}
			from, _ := felt.FromBytes(read(ptr, 32))
			h.events = append(h.events, txn.Event{FromAddress: from})
			return []wasmer.Value{}, nil
		})

	sendMessageToL1 := wasmer.NewFunction(store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(i32, i32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			if ln < 64 {
				return []wasmer.Value{}, nil
			}
			raw := read(ptr, ln)
			from, _ := felt.FromBytes(raw[0:32])
			to, _ := felt.FromBytes(raw[32:64])
			h.msgsL1 = append(h.msgsL1, txn.MessageToL1{FromAddress: from, ToAddress: to})
			return []wasmer.Value{}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas":      consumeGas,
		"host_storage_read":     storageRead,
		"host_storage_write":    storageWrite,
		"host_emit_event":       emitEvent,
		"host_send_message_l1":  sendMessageToL1,
	})

	return imports
}
