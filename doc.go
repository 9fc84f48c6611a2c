/*
Package replmap provides a string to int map that is replicated across the members of a group.

Every member of the group holds a full copy of the map. A mutation is never applied directly: Put and
Remove broadcast an envelope describing the mutation to the group, and each member, the sender included,
applies the envelope when the group delivers it. Reads are served from the local copy and may therefore
lag behind mutations the caller has just issued.

The map is built on top of a Group, the group-communication substrate. A Group provides multicast with
per-sender ordering along with membership views, and it transfers state between members. Two implementations are
provided. LocalNetwork connects members living in the same process and can split them into partitions,
which makes it useful for tests and simulations. GRPCGroup connects members over gRPC; its membership is
provided by the caller, typically from a discovery service.

	network := replmap.NewLocalNetwork()

	m1, err := replmap.New(network.NewGroup("node-1"), "inventory")
	if err != nil {
	    panic(err)
	}
	defer m1.Close()

	m2, err := replmap.New(network.NewGroup("node-2"), "inventory")
	if err != nil {
	    panic(err)
	}
	defer m2.Close()

	if err := m1.Put("apples", 3); err != nil {
	    panic(err)
	}

	// Eventually m2.Get("apples") returns 3.

A member that joins a group with other members receives a copy of the map from one of them before New
returns. A member that is alone starts with an empty map.

When a partitioned group heals, the substrate installs a merge view listing the subgroups that were
separated. The first subgroup wins: its members keep their data, and every other member replaces its
copy with one fetched from the group. Mutations made outside the first subgroup while partitioned are
lost. Merges are resolved in the background, one at a time, and a member that cannot fetch state within
the configured timeout keeps its stale copy.

Send failures are not reported to the caller of Put or Remove. They are logged and counted in the
metrics of the map. A send that reaches only some members is applied by those members.
*/
package replmap
