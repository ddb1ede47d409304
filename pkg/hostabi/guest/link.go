/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package guest links the host-ABI library's namespaces (eth.*, io.*, log,
// abort, context) into a wazero runtime as host modules, and drives a
// compiled guest module's entry points against them.
package guest

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmunit/wasmunit/pkg/hostabi/alloc"
	"github.com/wasmunit/wasmunit/pkg/hostabi/eth"
	"github.com/wasmunit/wasmunit/pkg/hostabi/memview"
	"github.com/wasmunit/wasmunit/pkg/hostabi/service"
	"github.com/wasmunit/wasmunit/pkg/hostabi/vfs"
)

// linkModule is the module name every eth.*/io.*/log/context host function
// is registered under; the guest always imports them from this single
// namespace.
const linkModule = "ya"

// envModule is the module name abort is registered under, following the
// AssemblyScript compiler's convention of routing its runtime's own traps
// through "env".
const envModule = "env"

// sinkFunc returns the OutputHandler currently active for the call in
// flight; identityFunc returns the entry point id currently executing. Both
// are evaluated at call time rather than bound once, since the same linked
// host modules serve every entry point call against one guest instance.
type sinkFunc func() service.OutputHandler
type identityFunc func() string

// buildHostModules instantiates the "ya" and "env" host modules on rt,
// registering every function the host-ABI library exposes to a guest. It
// must run before the guest module that imports from them is instantiated.
func buildHostModules(ctx context.Context, rt wazero.Runtime, table *vfs.Table, sink sinkFunc, identity identityFunc) error {
	ya := rt.NewHostModuleBuilder(linkModule)
	ya.NewFunctionBuilder().WithFunc(hostEthNewKey).Export("eth.newKey")
	ya.NewFunctionBuilder().WithFunc(hostEthPrvToAddress).Export("eth.prvToAddress")
	ya.NewFunctionBuilder().WithFunc(hostEthPubToAddress).Export("eth.pubToAddress")
	ya.NewFunctionBuilder().WithFunc(hostEthSign).Export("eth.sign")
	ya.NewFunctionBuilder().WithFunc(hostEthKeccak256).Export("eth.keccak256")
	ya.NewFunctionBuilder().WithFunc(hostEthEcrecover).Export("eth.ecrecover")
	ya.NewFunctionBuilder().WithFunc(hostEthBytesToHex).Export("eth.bytesToHex")
	ya.NewFunctionBuilder().WithFunc(hostEthSharedSecret).Export("eth.sharedSecret")
	ya.NewFunctionBuilder().WithFunc(hostIOWopen(table)).Export("io.wopen")
	ya.NewFunctionBuilder().WithFunc(hostIORopen(table)).Export("io.ropen")
	ya.NewFunctionBuilder().WithFunc(hostIORead(table)).Export("io.read")
	ya.NewFunctionBuilder().WithFunc(hostIOWrite(table)).Export("io.write")
	ya.NewFunctionBuilder().WithFunc(hostIOClose(table)).Export("io.close")
	ya.NewFunctionBuilder().WithFunc(hostLog(sink)).Export("log")
	ya.NewFunctionBuilder().WithFunc(hostContext(identity)).Export("context")
	if _, err := ya.Instantiate(ctx); err != nil {
		return fmt.Errorf("guest: linking %q host module: %w", linkModule, err)
	}

	env := rt.NewHostModuleBuilder(envModule)
	env.NewFunctionBuilder().WithFunc(hostAbort(sink)).Export("abort")
	if _, err := env.Instantiate(ctx); err != nil {
		return fmt.Errorf("guest: linking %q host module: %w", envModule, err)
	}
	return nil
}

// decodeFailure is the sentinel guest pointer ("null") every eth.* function
// returns when it cannot decode its arguments, mirroring the original's
// propensity to let a bad argument simply fail allocation rather than trap.
const decodeFailure = 0

func hostEthNewKey(ctx context.Context, mod api.Module) uint32 {
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	priv, _, err := eth.GenerateKeyPair()
	if err != nil {
		return decodeFailure
	}
	ptr, err := a.NewBytes(ctx, priv.Serialize())
	if err != nil {
		return decodeFailure
	}
	return ptr
}

func hostEthPrvToAddress(ctx context.Context, mod api.Module, ptr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	raw, err := view.DecodeSecret(ptr)
	if err != nil {
		return decodeFailure
	}
	priv, err := eth.ParseSecret(raw)
	if err != nil {
		return decodeFailure
	}
	addr := eth.PrivToAddress(priv)
	out, err := a.NewString(ctx, addr.HexString())
	if err != nil {
		return decodeFailure
	}
	return out
}

func hostEthPubToAddress(ctx context.Context, mod api.Module, ptr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	raw, err := view.DecodePubKey(ptr)
	if err != nil {
		return decodeFailure
	}
	pub, err := eth.ParsePubKey(raw)
	if err != nil {
		return decodeFailure
	}
	addr := eth.ToAddress(pub)
	out, err := a.NewString(ctx, addr.HexString())
	if err != nil {
		return decodeFailure
	}
	return out
}

func hostEthSign(ctx context.Context, mod api.Module, prvPtr, hashPtr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	rawPrv, err := view.DecodeSecret(prvPtr)
	if err != nil {
		return decodeFailure
	}
	priv, err := eth.ParseSecret(rawPrv)
	if err != nil {
		return decodeFailure
	}
	rawHash, err := view.DecodeHash(hashPtr)
	if err != nil {
		return decodeFailure
	}
	var hash eth.Hash
	copy(hash[:], rawHash)

	sig, err := eth.Sign(priv, hash)
	if err != nil {
		return decodeFailure
	}
	out, err := a.NewBytes(ctx, sig[:])
	if err != nil {
		return decodeFailure
	}
	return out
}

func hostEthKeccak256(ctx context.Context, mod api.Module, ptr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	data, err := view.Bytes(ptr)
	if err != nil {
		return decodeFailure
	}
	hash := eth.Keccak256(data)
	out, err := a.NewBytes(ctx, hash[:])
	if err != nil {
		return decodeFailure
	}
	return out
}

func hostEthEcrecover(ctx context.Context, mod api.Module, hashPtr, sigPtr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	rawHash, err := view.DecodeHash(hashPtr)
	if err != nil {
		return decodeFailure
	}
	rawSig, err := view.FixedBytes(sigPtr, 65)
	if err != nil {
		return decodeFailure
	}
	var hash eth.Hash
	copy(hash[:], rawHash)
	var sig eth.RecoverableSignature
	copy(sig[:], rawSig)

	pub, err := eth.RecoverPubKey(sig, hash)
	if err != nil {
		return decodeFailure
	}
	out, err := a.NewBytes(ctx, eth.SerializePubKey(pub))
	if err != nil {
		return decodeFailure
	}
	return out
}

func hostEthBytesToHex(ctx context.Context, mod api.Module, ptr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	data, err := view.Bytes(ptr)
	if err != nil {
		return decodeFailure
	}
	out, err := a.NewString(ctx, eth.HexEncode(data))
	if err != nil {
		return decodeFailure
	}
	return out
}

func hostEthSharedSecret(ctx context.Context, mod api.Module, prvPtr, pubPtr uint32) uint32 {
	view := memview.New(mod.Memory())
	a, err := alloc.ForModule(mod)
	if err != nil {
		return decodeFailure
	}
	rawPrv, err := view.DecodeSecret(prvPtr)
	if err != nil {
		return decodeFailure
	}
	priv, err := eth.ParseSecret(rawPrv)
	if err != nil {
		return decodeFailure
	}
	rawPub, err := view.DecodePubKey(pubPtr)
	if err != nil {
		return decodeFailure
	}
	pub, err := eth.ParsePubKey(rawPub)
	if err != nil {
		return decodeFailure
	}
	secret := eth.SharedSecret(priv, pub)
	out, err := a.NewBytes(ctx, secret[:])
	if err != nil {
		return decodeFailure
	}
	return out
}

// ioFailure is the sentinel every io.* function returns on error, matching
// the original fd state's decode_result convention of collapsing any
// failure to -1 rather than distinguishing error causes across the ABI
// boundary.
const ioFailure int32 = -1

func hostIOWopen(table *vfs.Table) func(ctx context.Context, mod api.Module, pathPtr uint32) int32 {
	return func(ctx context.Context, mod api.Module, pathPtr uint32) int32 {
		path, err := memview.New(mod.Memory()).String(pathPtr)
		if err != nil {
			return ioFailure
		}
		fd, err := table.OpenWrite(path)
		if err != nil {
			return ioFailure
		}
		return fd
	}
}

func hostIORopen(table *vfs.Table) func(ctx context.Context, mod api.Module, pathPtr uint32) int32 {
	return func(ctx context.Context, mod api.Module, pathPtr uint32) int32 {
		path, err := memview.New(mod.Memory()).String(pathPtr)
		if err != nil {
			return ioFailure
		}
		fd, err := table.OpenRead(path)
		if err != nil {
			return ioFailure
		}
		return fd
	}
}

func hostIORead(table *vfs.Table) func(ctx context.Context, mod api.Module, fd int32, bufPtr uint32) int32 {
	return func(ctx context.Context, mod api.Module, fd int32, bufPtr uint32) int32 {
		buf, err := memview.New(mod.Memory()).Mut(bufPtr)
		if err != nil {
			return ioFailure
		}
		n, err := table.Read(fd, buf)
		if err != nil {
			return ioFailure
		}
		return int32(n)
	}
}

func hostIOWrite(table *vfs.Table) func(ctx context.Context, mod api.Module, fd int32, bufPtr uint32) int32 {
	return func(ctx context.Context, mod api.Module, fd int32, bufPtr uint32) int32 {
		data, err := memview.New(mod.Memory()).Bytes(bufPtr)
		if err != nil {
			return ioFailure
		}
		n, err := table.Write(fd, data)
		if err != nil {
			return ioFailure
		}
		return int32(n)
	}
}

// hostIOClose returns void, matching the original's io.close: a fd close
// never fails visibly to the guest.
func hostIOClose(table *vfs.Table) func(ctx context.Context, mod api.Module, fd int32) {
	return func(ctx context.Context, mod api.Module, fd int32) {
		_ = table.Close(fd)
	}
}

// hostLog decodes msg and routes it to the sink's stderr side: the original
// runtime's "ya".log, like abort, only ever speaks to the stderr-equivalent
// OUTPUT_HANDLER, never stdout.
func hostLog(sink sinkFunc) func(ctx context.Context, mod api.Module, msgPtr uint32) {
	return func(ctx context.Context, mod api.Module, msgPtr uint32) {
		msg, err := memview.New(mod.Memory()).String(msgPtr)
		if err != nil {
			return
		}
		sink().HandleStderr(msg)
	}
}

// hostAbort formats a guest panic the way AssemblyScript's runtime reports
// it, forwards the formatted line to the sink's stderr side, then panics so
// wazero traps the call and unwinds the guest's execution; the panic value
// surfaces as the error of the guest call in flight.
func hostAbort(sink sinkFunc) func(ctx context.Context, mod api.Module, messagePtr, fileNamePtr, line, column uint32) {
	return func(ctx context.Context, mod api.Module, messagePtr, fileNamePtr, line, column uint32) {
		view := memview.New(mod.Memory())
		message, _ := view.String(messagePtr)
		fileName, _ := view.String(fileNamePtr)
		sink().HandleStderr(fmt.Sprintf("at [%s:%d] %s", fileName, line, message))
		panic(fmt.Errorf("guest: abort: %s", message))
	}
}

// hostContext returns a pre-baked ABI blob holding the caller identity: the
// entry point id currently executing, the only notion of "caller" this
// runtime has (there is no remote peer to identify, unlike the RPC-driven
// original). The original runtime never implemented this function; the
// guest-visible behaviour here is this package's own, documented addition.
func hostContext(identity identityFunc) func(ctx context.Context, mod api.Module) uint32 {
	return func(ctx context.Context, mod api.Module) uint32 {
		a, err := alloc.ForModule(mod)
		if err != nil {
			return decodeFailure
		}
		ptr, err := a.NewString(ctx, identity())
		if err != nil {
			return decodeFailure
		}
		return ptr
	}
}
