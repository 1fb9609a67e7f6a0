package tally

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bsq-network/dao-engine/pkg/models"
)

// serializeBallots implements the deterministic, length-prefixed
// ballot-list encoding the commitment covers: entries sorted ascending by
// proposal tx-id, each encoded as [u16 txid-len][txid][vote:u8].
func serializeBallots(ballots []models.Ballot) []byte {
	sorted := make([]models.Ballot, len(ballots))
	copy(sorted, ballots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProposalTxID < sorted[j].ProposalTxID })

	var buf []byte
	for _, b := range sorted {
		idBytes := []byte(b.ProposalTxID)
		lenPrefix := make([]byte, 2)
		binary.BigEndian.PutUint16(lenPrefix, uint16(len(idBytes)))
		buf = append(buf, lenPrefix...)
		buf = append(buf, idBytes...)
		buf = append(buf, byte(b.Vote))
	}
	return buf
}

// deserializeBallots parses the encoding produced by serializeBallots.
func deserializeBallots(data []byte) ([]models.Ballot, error) {
	var out []models.Ballot
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("tally: truncated ballot length prefix")
		}
		idLen := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < idLen+1 {
			return nil, fmt.Errorf("tally: truncated ballot entry")
		}
		txID := string(data[:idLen])
		vote := models.Vote(data[idLen])
		data = data[idLen+1:]
		out = append(out, models.Ballot{ProposalTxID: txID, Vote: vote})
	}
	return out, nil
}

// serializeMeritList encodes a MeritList as a length-prefixed
// concatenation of (issuance-tx-id, age, pubkey, signature) entries.
// This encoding is an engine-internal convention; only the blind-vote
// ballot-list serialization is fixed by the commitment format.
func serializeMeritList(list models.MeritList) []byte {
	var buf []byte
	for _, e := range list {
		idBytes := []byte(e.IssuanceTxID)
		header := make([]byte, 2+4+2+2)
		binary.BigEndian.PutUint16(header[0:2], uint16(len(idBytes)))
		binary.BigEndian.PutUint32(header[2:6], e.AgeBlocks)
		binary.BigEndian.PutUint16(header[6:8], uint16(len(e.PubKey)))
		binary.BigEndian.PutUint16(header[8:10], uint16(len(e.Signature)))
		buf = append(buf, header...)
		buf = append(buf, idBytes...)
		buf = append(buf, e.PubKey...)
		buf = append(buf, e.Signature...)
	}
	return buf
}

// deserializeMeritList parses the encoding produced by serializeMeritList.
func deserializeMeritList(data []byte) (models.MeritList, error) {
	var out models.MeritList
	for len(data) > 0 {
		if len(data) < 10 {
			return nil, fmt.Errorf("tally: truncated merit entry header")
		}
		idLen := int(binary.BigEndian.Uint16(data[0:2]))
		age := binary.BigEndian.Uint32(data[2:6])
		pubLen := int(binary.BigEndian.Uint16(data[6:8]))
		sigLen := int(binary.BigEndian.Uint16(data[8:10]))
		data = data[10:]
		if len(data) < idLen+pubLen+sigLen {
			return nil, fmt.Errorf("tally: truncated merit entry body")
		}
		txID := string(data[:idLen])
		var pub []byte
		if pubLen > 0 {
			pub = append([]byte(nil), data[idLen:idLen+pubLen]...)
		}
		var sig []byte
		if sigLen > 0 {
			sig = append([]byte(nil), data[idLen+pubLen:idLen+pubLen+sigLen]...)
		}
		data = data[idLen+pubLen+sigLen:]
		out = append(out, models.MeritEntry{IssuanceTxID: txID, AgeBlocks: age, PubKey: pub, Signature: sig})
	}
	return out, nil
}
