// This file is part of StrixCore.
//
// StrixCore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// StrixCore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package world

import (
	"StrixCore/protocol"
)

// Client is the world's handle on a connected session. Every method is
// invoked on the tick goroutine and must not block: implementations
// encode synchronously and queue the frame for their own writer.
type Client interface {
	ChunkViewer
	EntityViewer

	// Send queues a control message of the given type.
	Send(t protocol.MsgType, body any)

	// Disconnect asks the session to close; cleanup arrives back at
	// the world as a leave command.
	Disconnect(reason error)
}

// ChunkViewer receives chunk streaming for one session.
type ChunkViewer interface {
	ViewChunkData(c *Chunk)
	ViewChunkUnload(pos ChunkPos)
}

// EntityViewer receives entity sync for one session.
type EntityViewer interface {
	ViewEntitySpawn(e *Entity, username string)
	ViewEntityUpdate(batch *protocol.EntityBatch)
	ViewEntityDespawn(id int32)
}
